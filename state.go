package gambit

import (
	"sync/atomic"

	"github.com/gordian-engine/gambit/gwire"
)

// stateHolder holds the newest applied authoritative state.
// The receive goroutine applies; the tick goroutine and callers of
// [*Client.LatestState] load.
//
// Once a session is watched, the holder also records whether
// any applied state has listed that session as a player.
// Recognition is sticky: later states without the player do not clear it.
type stateHolder struct {
	p atomic.Pointer[gwire.AuthoritativeState]

	watched    atomic.Pointer[string]
	recognized atomic.Bool
}

// Load returns the newest applied state, or nil if none has been applied.
// The returned state must not be modified.
func (h *stateHolder) Load() *gwire.AuthoritativeState {
	return h.p.Load()
}

// Apply stores st if its version is greater than the stored version,
// reporting whether it did.
func (h *stateHolder) Apply(st *gwire.AuthoritativeState) bool {
	for {
		cur := h.p.Load()
		if cur != nil && st.Version <= cur.Version {
			return false
		}
		if h.p.CompareAndSwap(cur, st) {
			h.markIfListed(st)
			return true
		}
	}
}

// Watch sets the session whose recognition is tracked.
// The currently stored state, if any, is checked immediately.
func (h *stateHolder) Watch(sessionID string) {
	h.watched.Store(&sessionID)
	if st := h.p.Load(); st != nil {
		h.markIfListed(st)
	}
}

// Recognized reports whether any applied state
// has listed the watched session as a player.
func (h *stateHolder) Recognized() bool {
	return h.recognized.Load()
}

func (h *stateHolder) markIfListed(st *gwire.AuthoritativeState) {
	if h.recognized.Load() {
		return
	}
	id := h.watched.Load()
	if id != nil && st.HasPlayer(*id) {
		h.recognized.Store(true)
	}
}
