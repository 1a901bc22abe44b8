package gambittest

import (
	"sync"

	"github.com/gordian-engine/gambit/gwire"
)

// Renderer is a renderer that records what it was given.
// It is safe to inspect from the test goroutine
// while the engine calls it from the tick goroutine.
type Renderer struct {
	mu sync.Mutex

	sessionID  string
	setupCalls int
	renders    int
	versions   []int64
	last       *gwire.AuthoritativeState

	// Receives a value after each Render call, if there is room.
	Rendered chan struct{}
}

// NewRenderer returns an initialized Renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		Rendered: make(chan struct{}, 1),
	}
}

func (r *Renderer) SetSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = id
}

func (r *Renderer) SetupBeforeRender() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setupCalls++
}

func (r *Renderer) SetState(st *gwire.AuthoritativeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = st
	r.versions = append(r.versions, st.Version)
}

func (r *Renderer) Render() {
	r.mu.Lock()
	r.renders++
	r.mu.Unlock()

	select {
	case r.Rendered <- struct{}{}:
	default:
	}
}

// SessionID returns the session ID passed to SetSessionID.
func (r *Renderer) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// SetupCalls returns the number of SetupBeforeRender calls.
func (r *Renderer) SetupCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupCalls
}

// Renders returns the number of Render calls.
func (r *Renderer) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

// Versions returns the version of every state passed to SetState, in order.
func (r *Renderer) Versions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.versions...)
}

// LastState returns the most recent state passed to SetState.
func (r *Renderer) LastState() *gwire.AuthoritativeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
