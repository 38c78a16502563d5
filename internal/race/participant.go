package race

import (
	"sync"
	"time"

	"github.com/amarcoder01/typemaster-race/api"
	"github.com/amarcoder01/typemaster-race/internal/rate"
)

// Participant represents one racer inside a Race.
//
// Multiple goroutines may invoke methods on a Participant simultaneously.
type Participant struct {
	id       string
	username string
	joinedAt time.Time

	progress int
	wpm      int
	accuracy int
	errors   int

	ready    bool
	finished bool
	position *int
	dnf      bool
	alive    bool

	limiter *rate.Limiter
	mu      sync.RWMutex
}

func (p *Participant) ID() string {
	return p.id
}

func (p *Participant) Username() string {
	return p.username
}

func (p *Participant) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alive
}

func (p *Participant) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = true
}

func (p *Participant) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

func (p *Participant) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *Participant) ToggleReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = !p.ready
	return p.ready
}

func (p *Participant) Finished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finished
}

// AllowProgress consumes one progress intent slot.
func (p *Participant) AllowProgress() bool {
	return p.limiter.Allow()
}

// UpdateProgress applies a progress report. Regressions are ignored:
// progress is monotonically non-decreasing while racing.
func (p *Participant) UpdateProgress(progress, wpm, accuracy, errors int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished || progress < p.progress {
		return false
	}
	p.progress = progress
	p.wpm = wpm
	p.accuracy = accuracy
	p.errors = errors
	return true
}

// RecordLeaveStats keeps a leaver's last reported stats without
// touching the error counter the leave intent does not carry.
func (p *Participant) RecordLeaveStats(progress, wpm, accuracy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished || progress < p.progress {
		return
	}
	p.progress = progress
	p.wpm = wpm
	p.accuracy = accuracy
}

func (p *Participant) resetForStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = 0
	p.wpm = 0
	p.accuracy = 100
	p.errors = 0
	p.finished = false
	p.position = nil
	p.dnf = false
}

func (p *Participant) Data() api.ParticipantData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return api.ParticipantData{
		ID:             p.id,
		Username:       p.username,
		Progress:       p.progress,
		WPM:            p.wpm,
		Accuracy:       p.accuracy,
		Errors:         p.errors,
		IsReady:        p.ready,
		IsFinished:     p.finished,
		FinishPosition: p.position,
		Connected:      p.alive,
	}
}

func (p *Participant) result() api.ResultData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return api.ResultData{
		ParticipantID: p.id,
		Username:      p.username,
		Position:      p.position,
		Progress:      p.progress,
		WPM:           p.wpm,
		Accuracy:      p.accuracy,
		Errors:        p.errors,
		DNF:           p.dnf,
	}
}
