package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(paragraph string) (*Tracker, *clock.Mock) {
	mock := clock.NewMock()
	tr := NewTracker(mock)
	tr.Start(paragraph, mock.Now())
	return tr, mock
}

func TestTrackerTypePastMistakes(t *testing.T) {
	// 20-char paragraph, 10 correct then 2 incorrect.
	tr, _ := newTestTracker("abcdefghijklmnopqrst")

	out := tr.Insert("abcdefghij")
	assert.Equal(t, 10, out.Accepted)
	assert.Equal(t, 0, tr.Errors())

	out = tr.Insert("xx")
	assert.Equal(t, 2, out.Accepted)
	assert.False(t, out.Finished)

	assert.Equal(t, 12, tr.Progress())
	assert.Equal(t, 2, tr.Errors())
	assert.Equal(t, 83, tr.Accuracy()) // round(10/12*100)

	verdicts := tr.Verdicts()
	assert.Equal(t, VerdictCorrect, verdicts[9])
	assert.Equal(t, VerdictIncorrect, verdicts[10])
	assert.Equal(t, VerdictIncorrect, verdicts[11])
	assert.Equal(t, VerdictPending, verdicts[12])
}

func TestTrackerBackspace(t *testing.T) {
	tr, _ := newTestTracker("abcd")

	tr.Insert("ax")
	require.Equal(t, 1, tr.Errors())

	// Backspace over the incorrect char refunds the error charge.
	assert.True(t, tr.Backspace())
	assert.Equal(t, 0, tr.Errors())
	assert.Equal(t, 1, tr.Progress())
	assert.Equal(t, VerdictPending, tr.Verdicts()[1])

	// Backspace over a correct char leaves the counter untouched.
	assert.True(t, tr.Backspace())
	assert.Equal(t, 0, tr.Errors())
	assert.Equal(t, 0, tr.Progress())

	// Backspace past position zero is a no-op.
	assert.False(t, tr.Backspace())
	assert.Equal(t, 0, tr.Progress())
}

func TestTrackerAccuracyBounds(t *testing.T) {
	tr, _ := newTestTracker("abcdef")

	assert.Equal(t, 100, tr.Accuracy()) // nothing typed yet

	tr.Insert("zzzzzz")
	assert.Equal(t, 0, tr.Accuracy())
	assert.GreaterOrEqual(t, tr.Errors(), 0)
}

func TestTrackerFinishOnce(t *testing.T) {
	tr, _ := newTestTracker("abc")

	out := tr.Insert("ab")
	assert.False(t, out.Finished)

	out = tr.Insert("c")
	assert.True(t, out.Finished)
	assert.Equal(t, 3, tr.Progress())

	// Input is locked after finishing; no second finish, no overrun.
	out = tr.Insert("d")
	assert.Equal(t, 0, out.Accepted)
	assert.False(t, out.Finished)
	assert.Equal(t, 3, tr.Progress())
}

func TestTrackerIndexNeverExceedsParagraph(t *testing.T) {
	tr, _ := newTestTracker("ab")

	out := tr.Insert("abcdef")
	assert.Equal(t, 2, out.Accepted)
	assert.True(t, out.Finished)
	assert.Equal(t, 2, tr.Progress())
}

func TestTrackerExtensionLatch(t *testing.T) {
	tr, _ := newTestTracker(strings.Repeat("a", 100))

	out := tr.Insert(strings.Repeat("a", 84))
	assert.False(t, out.NeedsExtension)

	out = tr.Insert("a") // crosses 85%
	assert.True(t, out.NeedsExtension)

	// Latched: no duplicate request for the same paragraph.
	out = tr.Insert("a")
	assert.False(t, out.NeedsExtension)

	// Growing re-arms the latch and keeps typed verdicts.
	tr.Grow(strings.Repeat("b", 100))
	assert.Equal(t, 200, tr.ParagraphLen())
	assert.Equal(t, VerdictCorrect, tr.Verdicts()[0])
	assert.Equal(t, VerdictPending, tr.Verdicts()[150])

	out = tr.Insert(strings.Repeat("a", 84)) // 170/200 = 85%
	assert.True(t, out.NeedsExtension)
}

func TestTrackerWPM(t *testing.T) {
	tr, mock := newTestTracker(strings.Repeat("a", 200))

	mock.Add(time.Minute)
	tr.Insert(strings.Repeat("a", 50))

	// 50 correct chars in one minute is 10 words per minute.
	assert.Equal(t, 10, tr.WPM())

	mock.Add(time.Minute)
	assert.Equal(t, 5, tr.WPM())
}

func TestTrackerTimedFinishLatch(t *testing.T) {
	tr, _ := newTestTracker("abcd")

	tr.Insert("ab")

	assert.True(t, tr.TimedFinishOnce())
	assert.False(t, tr.TimedFinishOnce())
	assert.False(t, tr.TimedFinishOnce())

	// Input stops once the time limit passed.
	out := tr.Insert("c")
	assert.Equal(t, 0, out.Accepted)
}
