package race

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotWaiting   = errors.New("race is not in waiting state")
	ErrNotCountdown = errors.New("race is not in countdown state")
	ErrNotRacing    = errors.New("race is not in racing state")
)

// StartCountdown transitions Waiting -> Countdown and begins emitting
// per-second countdown ticks. The zero tick means "go" and is followed
// by the race_start broadcast.
func (r *Race) StartCountdown(seconds int) error {
	r.mu.Lock()
	if r.status != StatusWaiting {
		r.mu.Unlock()
		return ErrNotWaiting
	}
	r.status = StatusCountdown
	cancel := make(chan string, 1)
	r.countdownCancel = cancel
	participants := r.participantList()
	r.mu.Unlock()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := r.Broadcast(ctx, api.Response[api.CountdownStartResponseData]{
		Type: api.ResponseTypeCountdownStart,
		Data: api.CountdownStartResponseData{
			Countdown:    seconds,
			Participants: participants,
		},
	})
	ctxCancel()
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast countdown start")
	}

	go r.runCountdown(seconds, cancel)
	return nil
}

func (r *Race) runCountdown(seconds int, cancel <-chan string) {
	ticker := r.clock.Ticker(time.Second)
	defer ticker.Stop()

	for value := seconds - 1; value >= 0; value-- {
		select {
		case <-r.doneCh:
			return
		case reason := <-cancel:
			r.cancelCountdown(reason)
			return
		case <-ticker.C:
		}

		ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.Broadcast(ctx, api.Response[api.CountdownResponseData]{
			Type: api.ResponseTypeCountdown,
			Data: api.CountdownResponseData{Countdown: value},
		})
		ctxCancel()
		if err != nil {
			log.Error().Err(err).Str("race_id", r.id).Msg("broadcast countdown tick")
		}
	}

	// A cancel racing with the last tick still wins.
	select {
	case reason := <-cancel:
		r.cancelCountdown(reason)
		return
	default:
	}

	r.start()
}

// CancelCountdown aborts a running countdown and surfaces the reason
// to every participant. It is a no-op outside the countdown state.
func (r *Race) CancelCountdown(reason string) error {
	r.mu.Lock()
	if r.status != StatusCountdown || r.countdownCancel == nil {
		r.mu.Unlock()
		return ErrNotCountdown
	}
	cancel := r.countdownCancel
	r.mu.Unlock()

	select {
	case cancel <- reason:
	default:
	}
	return nil
}

func (r *Race) cancelCountdown(reason string) {
	r.mu.Lock()
	if r.status == StatusCountdown {
		r.status = StatusWaiting
	}
	r.countdownCancel = nil
	r.mu.Unlock()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	err := r.Broadcast(ctx, api.Response[api.CountdownCancelledResponseData]{
		Type: api.ResponseTypeCountdownCancelled,
		Data: api.CountdownCancelledResponseData{Reason: reason},
	})
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast countdown cancelled")
	}
}

func (r *Race) start() {
	r.mu.Lock()
	if r.status != StatusCountdown {
		r.mu.Unlock()
		return
	}
	r.status = StatusRacing
	r.startedAt = r.clock.Now()
	r.countdownCancel = nil
	r.nextPosition = 0
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		p.resetForStart()
	}

	data := api.RaceStartResponseData{StartedAt: r.startedAt}
	if r.timed {
		limit := r.timeLimit
		data.TimeLimitSeconds = &limit
		r.timedTimer = r.clock.AfterFunc(time.Duration(r.timeLimit)*time.Second, r.finalizeTimed)
	}
	r.mu.Unlock()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	err := r.Broadcast(ctx, api.Response[api.RaceStartResponseData]{
		Type: api.ResponseTypeRaceStart,
		Data: data,
	})
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast race start")
	}
}

// Progress applies a participant's progress report and rebroadcasts it.
func (r *Race) Progress(ctx context.Context, p *Participant, req api.ProgressRequestData) error {
	if r.Status() != StatusRacing {
		return ErrNotRacing
	}
	if !p.UpdateProgress(req.Progress, req.WPM, req.Accuracy, req.Errors) {
		// Stale or regressive report, nothing to rebroadcast.
		return nil
	}
	return r.Broadcast(ctx, api.Response[api.ProgressUpdateResponseData]{
		Type: api.ResponseTypeProgressUpdate,
		Data: api.ProgressUpdateResponseData{
			ParticipantID: p.ID(),
			Progress:      req.Progress,
			WPM:           req.WPM,
			Accuracy:      req.Accuracy,
			Errors:        req.Errors,
		},
	})
}

// Extend appends generated text to the paragraph and broadcasts the
// additional content. The paragraph only ever grows.
func (r *Race) Extend(ctx context.Context) error {
	r.mu.Lock()
	if r.status != StatusRacing {
		r.mu.Unlock()
		return ErrNotRacing
	}
	additional := r.gen.Extension(r.extensionWords)
	r.paragraph += additional
	r.mu.Unlock()

	return r.Broadcast(ctx, api.Response[api.ParagraphExtendedResponseData]{
		Type: api.ResponseTypeParagraphExtended,
		Data: api.ParagraphExtendedResponseData{AdditionalContent: additional},
	})
}

// FinishParticipant assigns the next finish position to a participant.
// Repeated finish intents are idempotent. When every active
// participant is done the authoritative results are broadcast.
func (r *Race) FinishParticipant(ctx context.Context, p *Participant, progress, wpm, accuracy, errCount int) error {
	r.mu.Lock()
	if r.status != StatusRacing {
		r.mu.Unlock()
		return ErrNotRacing
	}

	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		r.mu.Unlock()
		return nil
	}
	r.nextPosition++
	position := r.nextPosition
	p.progress = progress
	p.wpm = wpm
	p.accuracy = accuracy
	p.errors = errCount
	p.finished = true
	p.position = &position
	p.mu.Unlock()
	r.mu.Unlock()

	err := r.Broadcast(ctx, api.Response[api.ParticipantFinishedResponseData]{
		Type: api.ResponseTypeParticipantFinished,
		Data: api.ParticipantFinishedResponseData{
			ParticipantID: p.ID(),
			Position:      position,
			WPM:           wpm,
			Accuracy:      accuracy,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast participant finished")
	}

	r.MaybeFinish()
	return nil
}

// TimedFinish records a participant's stats at timer expiry and marks
// him done. Positions for timed races are assigned at finalization.
func (r *Race) TimedFinish(p *Participant, req api.TimedFinishRequestData) error {
	if r.Status() != StatusRacing {
		return ErrNotRacing
	}
	p.UpdateProgress(req.Progress, req.WPM, req.Accuracy, req.Errors)
	return nil
}

// MarkDNF marks a participant as did-not-finish and broadcasts it.
// A DNF never blocks the remaining participants' race completion.
func (r *Race) MarkDNF(ctx context.Context, p *Participant) {
	r.mu.Lock()
	if r.status != StatusRacing {
		r.mu.Unlock()
		return
	}
	p.mu.Lock()
	alreadyDone := p.finished
	if !alreadyDone {
		p.finished = true
		p.dnf = true
		p.position = nil
	}
	p.mu.Unlock()
	r.mu.Unlock()

	if alreadyDone {
		return
	}

	err := r.Broadcast(ctx, api.Response[api.ParticipantLeftResponseData]{
		Type: api.ResponseTypeParticipantDNF,
		Data: api.ParticipantLeftResponseData{
			ParticipantID: p.ID(),
			Username:      p.Username(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast participant dnf")
	}

	r.MaybeFinish()
}

// MaybeFinish closes out an untimed race once no unfinished
// participant remains. A disconnected participant does not block
// completion; he is marked DNF at finalization unless he reconnects
// first.
func (r *Race) MaybeFinish() {
	r.mu.Lock()
	if r.status != StatusRacing {
		r.mu.Unlock()
		return
	}
	joined := 0
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		joined++
		if !p.Finished() && p.Alive() {
			r.mu.Unlock()
			return
		}
	}
	if joined == 0 {
		r.mu.Unlock()
		return
	}
	r.finalizeLocked()
	r.mu.Unlock()

	r.broadcastResults()
}

// finalizeTimed fires on the authoritative server deadline of a timed
// race. Unfinished participants are ranked by progress, then wpm.
func (r *Race) finalizeTimed() {
	r.mu.Lock()
	if r.status != StatusRacing {
		r.mu.Unlock()
		return
	}

	var pending []*Participant
	for _, p := range r.participants {
		if p == nil || p.Finished() {
			continue
		}
		if !p.Alive() {
			// Disconnected and never reconnected before race end.
			p.mu.Lock()
			p.finished = true
			p.dnf = true
			p.mu.Unlock()
			continue
		}
		pending = append(pending, p)
	}

	stats := make(map[*Participant]api.ParticipantData, len(pending))
	for _, p := range pending {
		stats[p] = p.Data()
	}
	sort.Slice(pending, func(i, j int) bool {
		si, sj := stats[pending[i]], stats[pending[j]]
		if si.Progress != sj.Progress {
			return si.Progress > sj.Progress
		}
		return si.WPM > sj.WPM
	})
	for _, p := range pending {
		r.nextPosition++
		position := r.nextPosition
		p.mu.Lock()
		p.finished = true
		p.position = &position
		p.mu.Unlock()
	}

	r.finalizeLocked()
	r.mu.Unlock()

	r.broadcastResults()
}

// finalizeLocked computes the authoritative leaderboard. Callers must
// hold r.mu. Finishers sort by position ascending, DNF entries last.
func (r *Race) finalizeLocked() {
	r.status = StatusFinished
	if r.timedTimer != nil {
		r.timedTimer.Stop()
		r.timedTimer = nil
	}

	results := make([]api.ResultData, 0, len(r.participants))
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		if !p.Alive() && !p.Finished() {
			p.mu.Lock()
			p.finished = true
			p.dnf = true
			p.mu.Unlock()
		}
		results = append(results, p.result())
	}
	sort.Slice(results, func(i, j int) bool {
		pi, pj := results[i].Position, results[j].Position
		switch {
		case pi == nil && pj == nil:
			return results[i].Username < results[j].Username
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
	r.results = results
}

func (r *Race) broadcastResults() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.Broadcast(ctx, api.Response[api.RaceFinishedResponseData]{
		Type: api.ResponseTypeRaceFinished,
		Data: api.RaceFinishedResponseData{Results: r.Results()},
	})
	if err != nil {
		log.Error().Err(err).Str("race_id", r.id).Msg("broadcast race finished")
	}
}
