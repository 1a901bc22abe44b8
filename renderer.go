package gambit

import "github.com/gordian-engine/gambit/gwire"

// Renderer presents authoritative state to the player.
// All methods are called from the engine's tick goroutine.
type Renderer interface {
	// Called once, before the first tick.
	SetSessionID(id string)

	// Called each tick with the newest applied state,
	// once any state has been applied.
	// The state must not be modified.
	SetState(*gwire.AuthoritativeState)

	// Called every tick, whether or not a state is available.
	Render()
}

// SetupRenderer is an optional extension of [Renderer]
// for renderers that need to prepare resources once the session is known.
type SetupRenderer interface {
	Renderer

	// Called once, after SetSessionID and before the first tick.
	SetupBeforeRender()
}

// CommandSource supplies debug commands.
// It is only consulted while the server reports debug mode.
type CommandSource interface {
	// NextCommand returns the next pending command code, if any.
	// It must not block.
	NextCommand() (string, bool)
}
