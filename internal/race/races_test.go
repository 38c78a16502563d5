package race_test

import (
	"strings"
	"testing"
	"time"

	"github.com/amarcoder01/typemaster-race/internal/paragraph"
	"github.com/amarcoder01/typemaster-race/internal/race"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaults(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	assert.Equal(t, 10, rc.MaxPlayers())
	assert.Equal(t, race.StatusWaiting, rc.Status())
	assert.NotEmpty(t, rc.ID())
	assert.NotEmpty(t, rc.Paragraph())

	timed, _ := rc.TimedInfo()
	assert.False(t, timed)
}

func TestRegisterTimedDefaults(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{Timed: true, RegisterTimeout: -1})
	require.NoError(t, err)

	timed, limit := rc.TimedInfo()
	assert.True(t, timed)
	assert.Equal(t, 60, limit)
}

func TestRoomCodeFormat(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	code := rc.RoomCode()
	assert.Len(t, code, 6)
	assert.Equal(t, strings.ToUpper(code), code)
}

func TestGetIsCaseInsensitive(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	got, ok := races.Get(strings.ToLower(rc.RoomCode()))
	require.True(t, ok)
	assert.Equal(t, rc, got)

	byID, ok := races.GetByID(rc.ID())
	require.True(t, ok)
	assert.Equal(t, rc, byID)
}

func TestDelete(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	races.Delete(rc.RoomCode())

	_, ok := races.Get(rc.RoomCode())
	assert.False(t, ok)
	_, ok = races.GetByID(rc.ID())
	assert.False(t, ok)

	select {
	case <-rc.Done():
	default:
		t.Fatal("deleted race was not closed")
	}
}

func TestRegisterTimeout(t *testing.T) {
	mock := clock.NewMock()
	races := race.NewRegistryWithClock(mock)

	rc, err := races.Register(race.Options{RegisterTimeout: time.Minute})
	require.NoError(t, err)

	mock.Add(time.Minute + time.Second)
	time.Sleep(10 * time.Millisecond) // wait for the timeout goroutine

	_, ok := races.Get(rc.RoomCode())
	assert.False(t, ok, "idle waiting room should expire")
}

func TestRegisterTimeoutSparesStartedRace(t *testing.T) {
	mock := clock.NewMock()
	races := race.NewRegistryWithClock(mock)

	rc, err := races.Register(race.Options{RegisterTimeout: time.Minute})
	require.NoError(t, err)

	require.NoError(t, rc.StartCountdown(5))
	require.Equal(t, race.StatusCountdown, rc.Status())

	mock.Add(time.Minute + time.Second)
	time.Sleep(10 * time.Millisecond) // wait for the timeout goroutine

	_, ok := races.Get(rc.RoomCode())
	assert.True(t, ok, "started race must outlive the register timeout")
}

func TestJoinGrantsHostToFirstParticipant(t *testing.T) {
	mock := clock.NewMock()
	races := race.NewRegistryWithClock(mock)

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	conn1, conn2 := new(websocket.Conn), new(websocket.Conn)

	p1 := rc.Join(conn1, "alice")
	mock.Add(time.Second)
	p2 := rc.Join(conn2, "bob")

	assert.Equal(t, p1.ID(), rc.Host())
	assert.NotEqual(t, p1.ID(), p2.ID())
	assert.True(t, rc.UsernameTaken("alice"))
	assert.False(t, rc.UsernameTaken("carol"))

	got, ok := rc.GetParticipantByConn(conn2)
	require.True(t, ok)
	assert.Equal(t, p2, got)
}

func TestMigrateHost(t *testing.T) {
	mock := clock.NewMock()
	races := race.NewRegistryWithClock(mock)

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	p1 := rc.Join(new(websocket.Conn), "alice")
	mock.Add(time.Second)
	p2 := rc.Join(new(websocket.Conn), "bob")
	mock.Add(time.Second)
	p3 := rc.Join(new(websocket.Conn), "carol")

	require.Equal(t, p1.ID(), rc.Host())

	// The earliest joined remaining participant inherits the role.
	next, ok := rc.MigrateHost()
	require.True(t, ok)
	assert.Equal(t, p2.ID(), next.ID())
	assert.Equal(t, p2.ID(), rc.Host())

	next, ok = rc.MigrateHost()
	require.True(t, ok)
	assert.NotEqual(t, p2.ID(), next.ID())
	assert.Contains(t, []string{p1.ID(), p3.ID()}, next.ID())
}

func TestRejoinToken(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{
		RegisterTimeout: -1,
		JWTSalt:         []byte("testsalt"),
	})
	require.NoError(t, err)

	p := rc.Join(new(websocket.Conn), "alice")

	token, err := rc.NewToken(p.ID())
	require.NoError(t, err)

	id, err := rc.CheckToken(token)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), id)

	_, err = rc.CheckToken("garbage")
	assert.Error(t, err)

	// A token minted by another race does not transfer.
	other, err := races.Register(race.Options{
		RegisterTimeout: -1,
		JWTSalt:         []byte("testsalt"),
	})
	require.NoError(t, err)
	_, err = other.CheckToken(token)
	assert.Error(t, err)
}

func TestParticipantProgressMonotonic(t *testing.T) {
	races := race.NewRegistry()

	rc, err := races.Register(race.Options{RegisterTimeout: -1})
	require.NoError(t, err)

	p := rc.Join(new(websocket.Conn), "alice")

	assert.True(t, p.UpdateProgress(10, 40, 95, 1))
	assert.False(t, p.UpdateProgress(5, 42, 96, 1), "regressive report must be dropped")
	assert.True(t, p.UpdateProgress(10, 42, 96, 1), "equal progress refreshes stats")

	data := p.Data()
	assert.Equal(t, 10, data.Progress)
	assert.Equal(t, 42, data.WPM)
}

func TestParticipantProgressRateLimit(t *testing.T) {
	mock := clock.NewMock()
	races := race.NewRegistryWithClock(mock)

	rc, err := races.Register(race.Options{
		RegisterTimeout:    -1,
		ProgressRateLimit:  3,
		ProgressRateWindow: time.Second,
	})
	require.NoError(t, err)

	p := rc.Join(new(websocket.Conn), "alice")

	for range 3 {
		assert.True(t, p.AllowProgress())
	}
	assert.False(t, p.AllowProgress())

	mock.Add(time.Second + time.Millisecond)
	assert.True(t, p.AllowProgress())
}

func TestParagraphGeneratorDeterminism(t *testing.T) {
	g1 := paragraph.NewGeneratorWithSeed(42)
	g2 := paragraph.NewGeneratorWithSeed(42)

	p1 := g1.Generate(30)
	assert.Equal(t, p1, g2.Generate(30))
	assert.Len(t, strings.Fields(p1), 30)

	ext := g1.Extension(10)
	assert.True(t, strings.HasPrefix(ext, " "))
	assert.Len(t, strings.Fields(ext), 10)
}
