// Package ginput contains the bounded queue that carries inputs
// from input sources to the tick loop.
package ginput

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/gambit/gpubsub"
	"github.com/gordian-engine/gambit/gwire"
)

// ErrQueueFull is returned from [*Queue.Enqueue]
// when the tick loop has fallen too far behind.
var ErrQueueFull = errors.New("input queue full")

// ErrInputTooLarge is returned from [*Queue.Enqueue]
// when an input's code or parameter exceeds the wire limits.
var ErrInputTooLarge = errors.New("input too large to encode")

// maxAckWindow bounds the bitset built in Reconcile.
// Outstanding ID spans wider than this are checked one input at a time.
const maxAckWindow = 1 << 16

// QueueConfig is the configuration for a [Queue].
type QueueConfig struct {
	// Capacity for inputs that are sent once.
	ReadyCapacity int

	// Capacity for retained inputs not yet picked up by the tick loop.
	TransferCapacity int

	// Maximum number of retained inputs awaiting acknowledgement.
	// Once reached, further retained inputs stay in the transfer buffer,
	// and Enqueue reports ErrQueueFull when that fills too.
	MaxOutstanding int
}

// DefaultQueueConfig returns a QueueConfig sized for interactive play.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		ReadyCapacity:    256,
		TransferCapacity: 64,
		MaxOutstanding:   64,
	}
}

func (c QueueConfig) validate() error {
	var err error

	if c.ReadyCapacity <= 0 {
		err = errors.Join(err, fmt.Errorf("ReadyCapacity must be positive (got %d)", c.ReadyCapacity))
	}
	if c.TransferCapacity <= 0 {
		err = errors.Join(err, fmt.Errorf("TransferCapacity must be positive (got %d)", c.TransferCapacity))
	}
	if c.MaxOutstanding <= 0 {
		err = errors.Join(err, fmt.Errorf("MaxOutstanding must be positive (got %d)", c.MaxOutstanding))
	}

	return err
}

// Queue accepts inputs from any number of producer goroutines
// and releases them to a single consumer, the tick loop,
// at most [gwire.MaxInputSlots] per tick.
//
// Enqueue and Notifications are safe for concurrent use.
// Every other method must only be called from the consumer goroutine.
//
// Retained inputs always take slot priority over fresh inputs.
// If at least MaxInputSlots retained inputs are outstanding,
// fresh inputs wait until the server acknowledges enough of them.
// This favors reliability of acknowledged traffic over liveness of the rest.
type Queue struct {
	log *slog.Logger

	nextID atomic.Uint64

	ready    chan Input
	transfer chan Input

	maxOutstanding int

	// Consumer-only state.
	sessionID   string
	outstanding []Input // Sorted by ID.
	purges      []uint64

	noticeMu sync.Mutex
	notices  *gpubsub.Stream[Notice]
}

// NewQueue returns a new Queue.
// It panics if cfg is invalid.
func NewQueue(log *slog.Logger, cfg QueueConfig) *Queue {
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("invalid queue config: %w", err))
	}

	return &Queue{
		log: log,

		ready:    make(chan Input, cfg.ReadyCapacity),
		transfer: make(chan Input, cfg.TransferCapacity),

		maxOutstanding: cfg.MaxOutstanding,

		notices: gpubsub.NewStream[Notice](),
	}
}

// Enqueue stamps in with the next input ID and queues it.
// It never blocks; if the relevant buffer is full,
// the ID is consumed and ErrQueueFull is returned.
//
// Inputs that could not be encoded are rejected with [ErrInputTooLarge]
// without consuming an ID.
func (q *Queue) Enqueue(in Input) (Input, error) {
	if in.Code == "" {
		return Input{}, errors.New("input code must not be empty")
	}
	if len(in.Code) > gwire.MaxCodeSize {
		return Input{}, fmt.Errorf(
			"%w: code is %d bytes (max %d)", ErrInputTooLarge, len(in.Code), gwire.MaxCodeSize,
		)
	}
	if len(in.Param) > gwire.MaxParamSize {
		return Input{}, fmt.Errorf(
			"%w: param is %d bytes (max %d)", ErrInputTooLarge, len(in.Param), gwire.MaxParamSize,
		)
	}

	in.ID = q.nextID.Add(1) - 1

	ch := q.ready
	if in.retained() {
		ch = q.transfer
	}

	select {
	case ch <- in:
		return in, nil
	default:
		return Input{}, ErrQueueFull
	}
}

// SetSessionID sets the session whose acknowledgements satisfy
// inputs without a custom Condition.
func (q *Queue) SetSessionID(id string) {
	q.sessionID = id
}

// Notifications returns the current head of the notice stream.
// Readers see every notice published after this call.
//
// Every notice after the returned head stays reachable
// for as long as the reader holds a reference to it,
// so readers must keep advancing, or drop the stream once done.
func (q *Queue) Notifications() *gpubsub.Stream[Notice] {
	q.noticeMu.Lock()
	defer q.noticeMu.Unlock()
	return q.notices
}

func (q *Queue) publish(n Notice) {
	q.noticeMu.Lock()
	defer q.noticeMu.Unlock()

	q.notices.Publish(n)
	q.notices = q.notices.Next
}

// DrainForTick returns up to [gwire.MaxInputSlots] inputs to send this tick:
// every outstanding retained input first, in ID order,
// then fresh inputs in arrival order.
// Fresh inputs are returned exactly once.
func (q *Queue) DrainForTick() []Input {
	q.foldTransfers()

	out := make([]Input, 0, gwire.MaxInputSlots)
	for _, in := range q.outstanding {
		if len(out) == gwire.MaxInputSlots {
			return out
		}
		out = append(out, in)
	}

	for len(out) < gwire.MaxInputSlots {
		select {
		case in := <-q.ready:
			out = append(out, in)
		default:
			return out
		}
	}
	return out
}

// Reconcile removes every outstanding input satisfied by state.
// Satisfied inputs with AckRequired set have their IDs queued for purge.
// A notice is published for each satisfied input.
func (q *Queue) Reconcile(state *gwire.AuthoritativeState) {
	if state == nil {
		return
	}

	q.foldTransfers()
	if len(q.outstanding) == 0 {
		return
	}

	acked := q.ackChecker(state)

	kept := q.outstanding[:0]
	for _, in := range q.outstanding {
		var ok bool
		if in.Condition != nil {
			ok = in.Condition(state, in)
		} else {
			ok = acked(in.ID)
		}

		if !ok {
			kept = append(kept, in)
			continue
		}

		if in.AckRequired {
			q.purges = append(q.purges, in.ID)
		}
		q.log.Debug(
			"Input satisfied",
			"input_id", in.ID, "code", in.Code, "purge", in.AckRequired,
		)
		q.publish(Notice{Input: in, Purged: in.AckRequired})
	}

	clear(q.outstanding[len(kept):])
	q.outstanding = kept
}

// ackChecker returns a function reporting whether state
// acknowledges a given input ID for the current session.
func (q *Queue) ackChecker(state *gwire.AuthoritativeState) func(uint64) bool {
	var lo, hi uint64
	found := false
	for _, in := range q.outstanding {
		if in.Condition != nil {
			continue
		}
		if !found {
			lo = in.ID
			found = true
		}
		hi = in.ID
	}

	if !found {
		return func(uint64) bool { return false }
	}

	if hi-lo >= maxAckWindow {
		return func(id uint64) bool {
			return slices.ContainsFunc(state.InputAcks, func(a gwire.InputAck) bool {
				return a.InputID == id && strings.EqualFold(a.SessionID, q.sessionID)
			})
		}
	}

	bs := state.InputAckWindow(q.sessionID, lo, hi+1)
	return func(id uint64) bool {
		return id >= lo && id <= hi && bs.Test(uint(id-lo))
	}
}

// DrainPurgeIDs returns up to [gwire.MaxPurgeSlots] IDs to purge this tick,
// oldest first. Each ID is returned exactly once.
func (q *Queue) DrainPurgeIDs() []uint64 {
	n := min(len(q.purges), gwire.MaxPurgeSlots)
	if n == 0 {
		return nil
	}

	out := slices.Clone(q.purges[:n])
	q.purges = append(q.purges[:0], q.purges[n:]...)
	return out
}

// Flush discards every queued input that has not been picked up yet,
// returning how many were dropped.
// Outstanding inputs are unaffected.
func (q *Queue) Flush() int {
	n := 0
	for {
		select {
		case <-q.ready:
			n++
		case <-q.transfer:
			n++
		default:
			return n
		}
	}
}

// Outstanding returns a copy of the retained inputs awaiting satisfaction.
func (q *Queue) Outstanding() []Input {
	return slices.Clone(q.outstanding)
}

// OutstandingCount reports how many retained inputs await satisfaction.
func (q *Queue) OutstandingCount() int {
	return len(q.outstanding)
}

// PendingPurges reports how many purge IDs are waiting to be drained.
func (q *Queue) PendingPurges() int {
	return len(q.purges)
}

func (q *Queue) foldTransfers() {
	added := false
	for len(q.outstanding) < q.maxOutstanding {
		select {
		case in := <-q.transfer:
			q.outstanding = append(q.outstanding, in)
			added = true
			continue
		default:
		}
		break
	}

	if added {
		// Concurrent producers may deliver out of ID order.
		slices.SortFunc(q.outstanding, func(a, b Input) int {
			return cmp.Compare(a.ID, b.ID)
		})
	}
}
