package engine

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// Verdict is the judgement of one typed character position.
type Verdict uint8

const (
	VerdictPending Verdict = iota
	VerdictCorrect
	VerdictIncorrect
)

// extensionThresholdPct is the progress percentage at which the
// tracker asks for more paragraph text, once per paragraph.
const extensionThresholdPct = 85

// InsertOutcome summarizes what one input event produced. The caller
// turns it into outbound intents.
type InsertOutcome struct {
	Accepted       int
	NeedsExtension bool
	Finished       bool
}

// Tracker scores local keystrokes against the target paragraph.
// Mistakes are typed past, not blocking: an incorrect character still
// advances the cursor and is only undone by backspace.
type Tracker struct {
	clk clock.Clock

	paragraph []rune
	verdicts  []Verdict
	index     int
	errs      int
	startedAt time.Time

	active          bool
	inputLocked     bool
	extensionAsked  bool
	finishSent      bool
	timedFinishSent bool
}

func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clk: clk}
}

// Start arms the tracker for a fresh race: zeroed counters, an
// all-pending verdict array sized to the paragraph, and the start
// anchor from which WPM elapsed time is measured.
func (t *Tracker) Start(paragraph string, startedAt time.Time) {
	t.paragraph = []rune(paragraph)
	t.verdicts = make([]Verdict, len(t.paragraph))
	t.index = 0
	t.errs = 0
	t.startedAt = startedAt
	t.active = true
	t.inputLocked = false
	t.extensionAsked = false
	t.finishSent = false
	t.timedFinishSent = false
}

// Grow appends extension text: new pending verdicts, already-typed
// content untouched, extension latch re-armed for the grown paragraph.
func (t *Tracker) Grow(additional string) {
	if !t.active {
		return
	}
	extra := []rune(additional)
	t.paragraph = append(t.paragraph, extra...)
	t.verdicts = append(t.verdicts, make([]Verdict, len(extra))...)
	t.extensionAsked = false
}

// Insert consumes typed characters, one verdict per character. Whole
// strings support composed (IME) input. Characters beyond the
// paragraph end are dropped.
func (t *Tracker) Insert(s string) InsertOutcome {
	var out InsertOutcome
	if !t.active || t.inputLocked {
		return out
	}

	for _, r := range s {
		if t.index >= len(t.paragraph) {
			break
		}
		if r == t.paragraph[t.index] {
			t.verdicts[t.index] = VerdictCorrect
		} else {
			t.verdicts[t.index] = VerdictIncorrect
			t.errs++
		}
		t.index++
		out.Accepted++
	}

	if out.Accepted == 0 {
		return out
	}

	if !t.extensionAsked &&
		t.index < len(t.paragraph) &&
		t.index*100 >= len(t.paragraph)*extensionThresholdPct {
		t.extensionAsked = true
		out.NeedsExtension = true
	}

	if t.index == len(t.paragraph) && !t.finishSent {
		t.finishSent = true
		t.inputLocked = true
		out.Finished = true
	}

	return out
}

// Backspace steps the cursor back one position, reverting the verdict
// to pending and refunding the error charge if that position had been
// incorrect. At position zero it is a no-op.
func (t *Tracker) Backspace() bool {
	if !t.active || t.inputLocked || t.index == 0 {
		return false
	}
	t.index--
	if t.verdicts[t.index] == VerdictIncorrect {
		t.errs--
	}
	t.verdicts[t.index] = VerdictPending
	return true
}

// TimedFinishOnce trips the timed-finish latch. Only the first call
// after Start returns true, no matter how many timer ticks fire past
// the deadline.
func (t *Tracker) TimedFinishOnce() bool {
	if !t.active || t.timedFinishSent {
		return false
	}
	t.timedFinishSent = true
	t.inputLocked = true
	return true
}

// Active reports whether the tracker has been armed by Start for the
// current race.
func (t *Tracker) Active() bool {
	return t.active
}

func (t *Tracker) Progress() int {
	return t.index
}

func (t *Tracker) Errors() int {
	return t.errs
}

func (t *Tracker) ParagraphLen() int {
	return len(t.paragraph)
}

// Accuracy is correct/typed as a rounded percentage, defined as 100
// before anything is typed.
func (t *Tracker) Accuracy() int {
	if t.index == 0 {
		return 100
	}
	correct := t.index - t.errs
	return int(math.Round(float64(correct) / float64(t.index) * 100))
}

// WPM uses the standard five-characters-per-word convention against
// the elapsed time since the race-start anchor.
func (t *Tracker) WPM() int {
	if !t.active {
		return 0
	}
	minutes := t.clk.Now().Sub(t.startedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	correct := t.index - t.errs
	return int(math.Round(float64(correct) / 5 / minutes))
}

// Verdicts returns a copy of the per-character verdict array.
func (t *Tracker) Verdicts() []Verdict {
	out := make([]Verdict, len(t.verdicts))
	copy(out, t.verdicts)
	return out
}
