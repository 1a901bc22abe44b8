package ginput_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gtest"
	"github.com/stretchr/testify/require"
)

const testSessionID = "sess-1"

func newQueue(t *testing.T) *ginput.Queue {
	t.Helper()

	q := ginput.NewQueue(gtest.NewLogger(t), ginput.DefaultQueueConfig())
	q.SetSessionID(testSessionID)
	return q
}

func ackState(version int64, ids ...uint64) *gwire.AuthoritativeState {
	st := &gwire.AuthoritativeState{Version: version}
	for _, id := range ids {
		st.InputAcks = append(st.InputAcks, gwire.InputAck{
			SessionID: testSessionID,
			InputID:   id,
		})
	}
	return st
}

func codes(ins []ginput.Input) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.Code
	}
	return out
}

func TestQueue_windowing(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	for i := range 7 {
		_, err := q.Enqueue(ginput.Input{Code: fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
	}

	first := q.DrainForTick()
	require.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, codes(first))

	second := q.DrainForTick()
	require.Equal(t, []string{"c5", "c6"}, codes(second))

	require.Empty(t, q.DrainForTick())
}

func TestQueue_assignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	a, err := q.Enqueue(ginput.Input{Code: "a", ID: 99})
	require.NoError(t, err)
	b, err := q.Enqueue(ginput.Input{Code: "b", AckRequired: true})
	require.NoError(t, err)
	c, err := q.Enqueue(ginput.Input{Code: "c"})
	require.NoError(t, err)

	require.Equal(t, uint64(0), a.ID)
	require.Equal(t, uint64(1), b.ID)
	require.Equal(t, uint64(2), c.ID)
}

func TestQueue_ackRequiredRetention(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	notices := q.Notifications()

	in, err := q.Enqueue(ginput.Input{Code: "fire", AckRequired: true})
	require.NoError(t, err)

	for range 3 {
		q.Reconcile(ackState(1))
		require.Equal(t, []string{"fire"}, codes(q.DrainForTick()))
		require.Empty(t, q.DrainPurgeIDs())
	}

	// An acknowledgement for another session does not count.
	other := ackState(2)
	other.InputAcks = append(other.InputAcks, gwire.InputAck{SessionID: "someone-else", InputID: in.ID})
	q.Reconcile(other)
	require.Equal(t, []string{"fire"}, codes(q.DrainForTick()))

	q.Reconcile(ackState(3, in.ID))
	require.Empty(t, q.DrainForTick())
	require.Equal(t, []uint64{in.ID}, q.DrainPurgeIDs())

	// Further states still carrying the ack do not purge again.
	q.Reconcile(ackState(4, in.ID))
	require.Empty(t, q.DrainForTick())
	require.Empty(t, q.DrainPurgeIDs())

	gtest.IsSending(t, notices.Ready)
	require.Equal(t, in.ID, notices.Val.Input.ID)
	require.True(t, notices.Val.Purged)
	gtest.NotSending(t, notices.Next.Ready)
}

func TestQueue_sessionMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	in, err := q.Enqueue(ginput.Input{Code: "fire", AckRequired: true})
	require.NoError(t, err)
	_ = q.DrainForTick()

	st := &gwire.AuthoritativeState{
		InputAcks: []gwire.InputAck{{SessionID: "SESS-1", InputID: in.ID}},
	}
	q.Reconcile(st)
	require.Equal(t, []uint64{in.ID}, q.DrainPurgeIDs())
}

func TestQueue_customCondition(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	satisfied := func(st *gwire.AuthoritativeState, _ ginput.Input) bool {
		return st.Version >= 10
	}
	in, err := q.Enqueue(ginput.Input{Code: "warp", Condition: satisfied})
	require.NoError(t, err)

	q.Reconcile(ackState(5, in.ID))
	require.Equal(t, []string{"warp"}, codes(q.DrainForTick()))

	notices := q.Notifications()
	q.Reconcile(ackState(10))
	require.Empty(t, q.DrainForTick())

	// Without AckRequired, a satisfied condition is never purged.
	require.Empty(t, q.DrainPurgeIDs())

	gtest.IsSending(t, notices.Ready)
	require.False(t, notices.Val.Purged)
}

func TestQueue_outstandingStarvesFreshInputs(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	var retained []uint64
	for i := range gwire.MaxInputSlots {
		in, err := q.Enqueue(ginput.Input{Code: fmt.Sprintf("ack%d", i), AckRequired: true})
		require.NoError(t, err)
		retained = append(retained, in.ID)
	}
	_, err := q.Enqueue(ginput.Input{Code: "fresh"})
	require.NoError(t, err)

	// Every slot goes to the retained inputs, tick after tick.
	for range 3 {
		out := q.DrainForTick()
		require.Len(t, out, gwire.MaxInputSlots)
		require.NotContains(t, codes(out), "fresh")
	}

	// Acknowledging one retained input frees one slot.
	q.Reconcile(ackState(1, retained[0]))
	out := q.DrainForTick()
	require.Equal(t, []string{"ack1", "ack2", "ack3", "ack4", "fresh"}, codes(out))
}

func TestQueue_wireShapeUnderBacklog(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	var acks []uint64
	for i := range 40 {
		in, err := q.Enqueue(ginput.Input{Code: fmt.Sprintf("c%d", i), AckRequired: i%2 == 0})
		require.NoError(t, err)
		if in.AckRequired {
			acks = append(acks, in.ID)
		}
	}

	q.Reconcile(ackState(1, acks...))
	require.Equal(t, len(acks), q.PendingPurges())

	for range 10 {
		ins := q.DrainForTick()
		purges := q.DrainPurgeIDs()
		require.LessOrEqual(t, len(ins), gwire.MaxInputSlots)
		require.LessOrEqual(t, len(purges), gwire.MaxPurgeSlots)

		var req gwire.OutboundRequest
		req.SetInputs(ginput.Slots(ins))
		req.SetPurges(purges)
		require.LessOrEqual(t, req.InputCount(), gwire.MaxInputSlots)
		require.LessOrEqual(t, req.PurgeCount(), gwire.MaxPurgeSlots)
	}
	require.Zero(t, q.PendingPurges())
}

func TestQueue_full(t *testing.T) {
	t.Parallel()

	q := ginput.NewQueue(gtest.NewLogger(t), ginput.QueueConfig{
		ReadyCapacity:    2,
		TransferCapacity: 1,
		MaxOutstanding:   1,
	})

	_, err := q.Enqueue(ginput.Input{Code: "a"})
	require.NoError(t, err)
	_, err = q.Enqueue(ginput.Input{Code: "b"})
	require.NoError(t, err)
	_, err = q.Enqueue(ginput.Input{Code: "c"})
	require.ErrorIs(t, err, ginput.ErrQueueFull)

	_, err = q.Enqueue(ginput.Input{Code: "r1", AckRequired: true})
	require.NoError(t, err)
	_ = q.DrainForTick() // Moves r1 to outstanding.

	_, err = q.Enqueue(ginput.Input{Code: "r2", AckRequired: true})
	require.NoError(t, err)
	_ = q.DrainForTick() // Outstanding is full, so r2 stays in transfer.

	_, err = q.Enqueue(ginput.Input{Code: "r3", AckRequired: true})
	require.ErrorIs(t, err, ginput.ErrQueueFull)

	require.Len(t, q.Outstanding(), 1)
}

func TestQueue_flush(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	for _, c := range []string{"a", "b"} {
		_, err := q.Enqueue(ginput.Input{Code: c})
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ginput.Input{Code: "r", AckRequired: true})
	require.NoError(t, err)

	require.Equal(t, 3, q.Flush())
	require.Empty(t, q.DrainForTick())
}

func TestQueue_rejectsInputsTooLargeToEncode(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	_, err := q.Enqueue(ginput.Input{
		Code:        strings.Repeat("x", gwire.MaxCodeSize+1),
		AckRequired: true,
	})
	require.ErrorIs(t, err, ginput.ErrInputTooLarge)

	_, err = q.Enqueue(ginput.Input{
		Code:  "move",
		Param: make([]byte, gwire.MaxParamSize+1),
	})
	require.ErrorIs(t, err, ginput.ErrInputTooLarge)

	// Inputs at the limits are accepted,
	// and the rejections did not consume IDs.
	big, err := q.Enqueue(ginput.Input{
		Code:        strings.Repeat("x", gwire.MaxCodeSize),
		AckRequired: true,
		Param:       make([]byte, gwire.MaxParamSize),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), big.ID)

	move, err := q.Enqueue(ginput.Input{Code: "move"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), move.ID)

	// Nothing left outstanding can make a request unencodable.
	for range 3 {
		var req gwire.OutboundRequest
		req.SetInputs(ginput.Slots(q.DrainForTick()))
		_, err := req.MarshalBinary()
		require.NoError(t, err)
	}
	require.Len(t, q.Outstanding(), 1)
}

func TestQueue_rejectsEmptyCode(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	_, err := q.Enqueue(ginput.Input{})
	require.Error(t, err)
}

func TestQueue_concurrentProducers(t *testing.T) {
	t.Parallel()

	q := newQueue(t)

	const producers = 4
	const perProducer = 10

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_, err := q.Enqueue(ginput.Input{
					Code:        fmt.Sprintf("p%d-%d", p, i),
					AckRequired: i%2 == 0,
				})
				if err != nil {
					t.Errorf("enqueue failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for range producers * perProducer {
		drained := q.DrainForTick()

		out := q.Outstanding()
		outIDs := make([]uint64, len(out))
		for i, in := range out {
			outIDs[i] = in.ID
		}
		require.IsNonDecreasing(t, outIDs)

		// Only acknowledge what was actually sent.
		var sent []uint64
		for _, in := range drained {
			seen[in.ID] = true
			sent = append(sent, in.ID)
		}
		q.Reconcile(ackState(1, sent...))
	}

	require.Len(t, seen, producers*perProducer)
}
