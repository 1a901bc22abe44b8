// Package gcmd tracks debug commands sent to the game server
// against the acknowledgements the server reports back.
package gcmd

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gordian-engine/gambit/gwire"
)

// ErrCodeTooLarge is returned from [*Reconciler.AddCommand]
// for a code that exceeds [gwire.MaxCodeSize].
var ErrCodeTooLarge = errors.New("command code too large to encode")

// Reconciler holds the commands the server has not yet acknowledged,
// and the acknowledged commands the server is still reporting.
//
// A command moves from unacked to acked once an applied state
// acknowledges its number for this session,
// and is dropped once the server stops reporting it.
//
// Reconciler is not safe for concurrent use;
// only the tick goroutine calls it.
type Reconciler struct {
	log *slog.Logger

	sessionID string

	next uint32

	unacked []gwire.Command
	acked   []gwire.Command
}

// NewReconciler returns a Reconciler for the given session.
// Command numbers start at zero.
func NewReconciler(log *slog.Logger, sessionID string) *Reconciler {
	return &Reconciler{
		log:       log,
		sessionID: sessionID,
	}
}

// AddCommand assigns code the next command number
// and adds it to the unacked list.
// A code that could not be encoded is rejected without consuming a number.
func (r *Reconciler) AddCommand(code string) (gwire.Command, error) {
	if len(code) > gwire.MaxCodeSize {
		return gwire.Command{}, fmt.Errorf(
			"%w: %d bytes (max %d)", ErrCodeTooLarge, len(code), gwire.MaxCodeSize,
		)
	}

	c := gwire.Command{Number: r.next, Code: code}
	r.next++
	r.unacked = append(r.unacked, c)
	return c, nil
}

// Reconcile updates both lists from state.
// States outside debug mode carry no command acknowledgements
// and leave the reconciler untouched.
func (r *Reconciler) Reconcile(state *gwire.AuthoritativeState) {
	if state == nil || !state.DebugMode {
		return
	}

	bs := state.CommandAckWindow(r.sessionID, r.next)

	r.acked = slices.DeleteFunc(r.acked, func(c gwire.Command) bool {
		if bs.Test(uint(c.Number)) {
			return false
		}
		r.log.Debug("Server forgot command", "number", c.Number, "code", c.Code)
		return true
	})

	r.unacked = slices.DeleteFunc(r.unacked, func(c gwire.Command) bool {
		if !bs.Test(uint(c.Number)) {
			return false
		}
		r.log.Debug("Server acknowledged command", "number", c.Number, "code", c.Code)
		r.acked = append(r.acked, c)
		return true
	})
}

// Unacked returns a copy of the commands awaiting acknowledgement.
func (r *Reconciler) Unacked() []gwire.Command {
	return slices.Clone(r.unacked)
}

// Acked returns a copy of the acknowledged commands
// the server is still reporting.
func (r *Reconciler) Acked() []gwire.Command {
	return slices.Clone(r.acked)
}
