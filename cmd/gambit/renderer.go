package main

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gordian-engine/gambit/gwire"
	"golang.org/x/time/rate"
)

// logRenderer renders the authoritative state as log lines,
// at most once per interval and only when the version changes.
type logRenderer struct {
	log *slog.Logger

	every rate.Sometimes

	sessionID string
	state     *gwire.AuthoritativeState

	logged      bool
	lastVersion int64
}

func newLogRenderer(log *slog.Logger, interval time.Duration) *logRenderer {
	return &logRenderer{
		log:   log,
		every: rate.Sometimes{Interval: interval},
	}
}

func (r *logRenderer) SetSessionID(id string) {
	r.sessionID = id
}

func (r *logRenderer) SetupBeforeRender() {
	r.log.Info("Waiting for the server to add the player", "session_id", r.sessionID)
}

func (r *logRenderer) SetState(st *gwire.AuthoritativeState) {
	r.state = st
}

func (r *logRenderer) Render() {
	st := r.state
	if st == nil || (r.logged && st.Version == r.lastVersion) {
		return
	}

	r.every.Do(func() {
		r.logged = true
		r.lastVersion = st.Version

		r.log.Info(
			"State",
			"version", st.Version,
			"joined", st.HasPlayer(r.sessionID),
			"players", len(st.Players),
			"debug", st.DebugMode,
			"entities", humanize.Bytes(uint64(len(st.Entities))),
		)
	})
}
