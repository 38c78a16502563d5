package engine

import (
	"sort"

	"github.com/amarcoder01/typemaster-race/api"
)

// Reconciler folds the authoritative race_finished results into a
// stable leaderboard and guards the terminal side effect behind a
// one-shot latch so redelivery cannot fire it twice.
type Reconciler struct {
	fired       bool
	leaderboard []api.ResultData
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply sorts the results by finish position ascending with DNF rows
// (nil position) after every genuine finisher, stores the leaderboard,
// and reports whether this is the first delivery for the session.
func (r *Reconciler) Apply(results []api.ResultData) ([]api.ResultData, bool) {
	board := make([]api.ResultData, len(results))
	copy(board, results)

	sort.SliceStable(board, func(i, j int) bool {
		a, b := board[i].Position, board[j].Position
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	r.leaderboard = board
	first := !r.fired
	r.fired = true
	return board, first
}

// Fired reports whether the terminal side effect already ran.
func (r *Reconciler) Fired() bool {
	return r.fired
}

// Leaderboard returns the last reconciled standings.
func (r *Reconciler) Leaderboard() []api.ResultData {
	out := make([]api.ResultData, len(r.leaderboard))
	copy(out, r.leaderboard)
	return out
}
