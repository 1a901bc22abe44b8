package gambit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gambit/gcmd"
	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gmetrics"
	"github.com/gordian-engine/gambit/gwire"
	"golang.org/x/time/rate"
)

// DefaultTickRate is the number of ticks per second
// when [EngineConfig.TickRate] is zero.
const DefaultTickRate = 30

// MaxTickRate is the highest accepted [EngineConfig.TickRate].
const MaxTickRate = 1000

// EngineConfig is the configuration for the tick engine.
type EngineConfig struct {
	// Ticks per second. Defaults to [DefaultTickRate].
	TickRate int
}

func (c EngineConfig) interval() time.Duration {
	hz := c.TickRate
	if hz == 0 {
		hz = DefaultTickRate
	}
	return time.Second / time.Duration(hz)
}

func (c EngineConfig) validate() error {
	if c.TickRate < 0 || c.TickRate > MaxTickRate {
		return fmt.Errorf(
			"EngineConfig.TickRate must be within [0, %d] (got %d)", MaxTickRate, c.TickRate,
		)
	}
	return nil
}

// Engine drives the session at a fixed tick rate.
//
// Until an applied state lists the session as a player,
// each tick discards queued inputs and sends a join request.
// Afterward, each tick sends the queued inputs and purges,
// and any debug commands, if there is anything to send.
// Every tick ends by rendering the newest state.
//
// Pausing stops the ticker; it does not cancel a request already sent.
type Engine struct {
	log *slog.Logger

	interval time.Duration

	queue    *ginput.Queue
	renderer Renderer
	commands CommandSource
	metrics  *gmetrics.Metrics

	send     func(gwire.OutboundRequest) error
	latest   func() *gwire.AuthoritativeState
	isListed func() bool

	paused atomic.Bool
	toggle chan struct{}

	sendErrLog rate.Sometimes

	// Tick-goroutine state.
	session    Session
	seq        uint64
	recognized bool
	cmds       *gcmd.Reconciler
}

type engineConfig struct {
	EngineConfig

	Queue    *ginput.Queue
	Renderer Renderer
	Commands CommandSource
	Metrics  *gmetrics.Metrics

	Send   func(gwire.OutboundRequest) error
	Latest func() *gwire.AuthoritativeState

	// Reports whether any applied state has listed the session.
	Recognized func() bool
}

func newEngine(log *slog.Logger, cfg engineConfig) *Engine {
	if cfg.Queue == nil || cfg.Renderer == nil || cfg.Send == nil ||
		cfg.Latest == nil || cfg.Recognized == nil {
		panic(errors.New("BUG: engine requires queue, renderer, send, latest, and recognized"))
	}

	return &Engine{
		log: log,

		interval: cfg.interval(),

		queue:    cfg.Queue,
		renderer: cfg.Renderer,
		commands: cfg.Commands,
		metrics:  cfg.Metrics,

		send:     cfg.Send,
		latest:   cfg.Latest,
		isListed: cfg.Recognized,

		toggle: make(chan struct{}, 1),

		sendErrLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Pause stops ticking until [*Engine.Resume] is called.
func (e *Engine) Pause() {
	e.paused.Store(true)
	e.notifyToggle()
}

// Resume restarts ticking after [*Engine.Pause].
func (e *Engine) Resume() {
	e.paused.Store(false)
	e.notifyToggle()
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

func (e *Engine) notifyToggle() {
	select {
	case e.toggle <- struct{}{}:
	default:
		// Already pending; the loop reads the flag, not the signal.
	}
}

// begin prepares the engine and renderer for session s.
func (e *Engine) begin(s Session) {
	e.session = s
	e.cmds = gcmd.NewReconciler(e.log.With("sys", "commands"), s.ID)

	e.renderer.SetSessionID(s.ID)
	if sr, ok := e.renderer.(SetupRenderer); ok {
		sr.SetupBeforeRender()
	}
}

// run ticks for session s until ctx is canceled.
func (e *Engine) run(ctx context.Context, s Session) {
	e.begin(s)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	running := true
	if e.paused.Load() {
		ticker.Stop()
		running = false
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Debug("Stopping engine", "cause", context.Cause(ctx))
			return

		case <-e.toggle:
			paused := e.paused.Load()
			if paused && running {
				ticker.Stop()
				running = false
				e.log.Info("Engine paused")
			} else if !paused && !running {
				ticker.Reset(e.interval)
				running = true
				e.log.Info("Engine resumed")
			}

		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	st := e.latest()

	// Recognition comes from the apply path, so a listing state
	// replaced before this tick still counts.
	if !e.recognized && e.isListed() {
		e.recognized = true
		e.log.Info("Server recognized session")
	}

	if e.recognized {
		e.sendInputs(st)
	} else {
		e.sendJoin()
	}

	if st != nil {
		e.renderer.SetState(st)
	}
	e.renderer.Render()
}

func (e *Engine) sendJoin() {
	if n := e.queue.Flush(); n > 0 {
		e.log.Debug("Discarded inputs queued while joining", "n", n)
	}

	e.seq++
	e.sendRequest(gwire.NewJoinRequest(e.seq, e.session.Secret), true)
}

func (e *Engine) sendInputs(st *gwire.AuthoritativeState) {
	e.queue.Reconcile(st)

	ins := e.queue.DrainForTick()
	purges := e.queue.DrainPurgeIDs()
	e.metrics.SetOutstandingInputs(e.queue.OutstandingCount())

	var cmds, forget []gwire.Command
	hasCommand := false
	if st != nil && st.DebugMode {
		if e.commands != nil {
			if code, ok := e.commands.NextCommand(); ok {
				c, err := e.cmds.AddCommand(code)
				if err != nil {
					e.log.Warn("Dropping debug command", "len", len(code), "err", err)
				} else {
					e.log.Debug("Queued debug command", "number", c.Number, "code", c.Code)
					hasCommand = true
				}
			}
		}
		e.cmds.Reconcile(st)
		cmds = e.cmds.Unacked()
		forget = e.cmds.Acked()
	}

	if len(ins) == 0 && len(purges) == 0 && !hasCommand {
		return
	}

	e.seq++
	req := gwire.OutboundRequest{
		SequenceNumber: e.seq,
		SessionToken:   e.session.Secret,

		Commands:         cmds,
		CommandsToForget: forget,
	}
	req.SetInputs(ginput.Slots(ins))
	req.SetPurges(purges)

	e.sendRequest(req, false)
}

func (e *Engine) sendRequest(req gwire.OutboundRequest, join bool) {
	if err := e.send(req); err != nil {
		e.sendErrLog.Do(func() {
			e.log.Info("Failed to send request", "seq", req.SequenceNumber, "err", err)
		})
		return
	}
	e.metrics.RequestSent(join, req.InputCount(), req.PurgeCount())
}
