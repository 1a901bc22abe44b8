package main

import (
	"strings"
	"testing"

	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		line string
		want parsedLine
	}{
		{line: "", want: parsedLine{}},
		{line: "   ", want: parsedLine{}},
		{line: "# comment", want: parsedLine{}},
		{line: "/", want: parsedLine{}},
		{line: "!", want: parsedLine{}},

		{line: ".pause", want: parsedLine{Kind: linePause}},
		{line: " .resume ", want: parsedLine{Kind: lineResume}},

		{line: "/spawn", want: parsedLine{Kind: lineCommand, Command: "spawn"}},
		{line: "/ god mode", want: parsedLine{Kind: lineCommand, Command: "god mode"}},

		{line: "jump", want: parsedLine{
			Kind:  lineInput,
			Input: ginput.Input{Code: "jump"},
		}},
		{line: "move  3 4 ", want: parsedLine{
			Kind:  lineInput,
			Input: ginput.Input{Code: "move", Param: []byte("3 4")},
		}},
		{line: "!fire", want: parsedLine{
			Kind:  lineInput,
			Input: ginput.Input{Code: "fire", AckRequired: true},
		}},
		{line: "! build tower", want: parsedLine{
			Kind:  lineInput,
			Input: ginput.Input{Code: "build", AckRequired: true, Param: []byte("tower")},
		}},
	} {
		require.Equal(t, tc.want, parseLine(tc.line), "line %q", tc.line)
	}
}

func TestCommandQueue(t *testing.T) {
	t.Parallel()

	q := newCommandQueue(2)

	_, ok := q.NextCommand()
	require.False(t, ok)

	require.True(t, q.Push("a"))
	require.True(t, q.Push("b"))
	require.False(t, q.Push("c"))

	code, ok := q.NextCommand()
	require.True(t, ok)
	require.Equal(t, "a", code)

	code, ok = q.NextCommand()
	require.True(t, ok)
	require.Equal(t, "b", code)

	_, ok = q.NextCommand()
	require.False(t, ok)
}

type pauseRecorder struct {
	calls []string
}

func (p *pauseRecorder) Pause()  { p.calls = append(p.calls, "pause") }
func (p *pauseRecorder) Resume() { p.calls = append(p.calls, "resume") }

func TestReadInputs(t *testing.T) {
	t.Parallel()

	log := gtest.NewLogger(t)
	q := ginput.NewQueue(log, ginput.DefaultQueueConfig())
	cmds := newCommandQueue(4)
	var p pauseRecorder

	in := strings.Join([]string{
		"jump",
		"",
		"!fire",
		"/spawn",
		".pause",
		"move 1 2",
		".resume",
	}, "\n")

	require.NoError(t, readInputs(t.Context(), log, strings.NewReader(in), q, cmds, &p))

	require.Equal(t, []string{"pause", "resume"}, p.calls)

	code, ok := cmds.NextCommand()
	require.True(t, ok)
	require.Equal(t, "spawn", code)

	got := q.DrainForTick()
	require.Len(t, got, 3)

	// The ack-required input is outstanding, so it comes first.
	require.Equal(t, "fire", got[0].Code)
	require.True(t, got[0].AckRequired)
	require.Equal(t, uint64(1), got[0].ID)

	require.Equal(t, "jump", got[1].Code)
	require.Equal(t, uint64(0), got[1].ID)

	require.Equal(t, "move", got[2].Code)
	require.Equal(t, []byte("1 2"), got[2].Param)
}

func TestReadInputs_queueFull(t *testing.T) {
	t.Parallel()

	log := gtest.NewLogger(t)
	q := ginput.NewQueue(log, ginput.QueueConfig{
		ReadyCapacity:    1,
		TransferCapacity: 1,
		MaxOutstanding:   1,
	})

	require.NoError(t, readInputs(
		t.Context(), log, strings.NewReader("a\nb\nc\n"), q, newCommandQueue(1), new(pauseRecorder),
	))

	got := q.DrainForTick()
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Code)
}

func TestReadInputs_skipsOversizedLines(t *testing.T) {
	t.Parallel()

	log := gtest.NewLogger(t)
	q := ginput.NewQueue(log, ginput.DefaultQueueConfig())
	cmds := newCommandQueue(4)

	long := strings.Repeat("x", gwire.MaxCodeSize+1)
	in := strings.Join([]string{
		"!" + long,
		"/" + long,
		"move",
		"/spawn",
	}, "\n")

	require.NoError(t, readInputs(t.Context(), log, strings.NewReader(in), q, cmds, new(pauseRecorder)))

	got := q.DrainForTick()
	require.Len(t, got, 1)
	require.Equal(t, "move", got[0].Code)
	require.Empty(t, q.Outstanding())

	code, ok := cmds.NextCommand()
	require.True(t, ok)
	require.Equal(t, "spawn", code)
	_, ok = cmds.NextCommand()
	require.False(t, ok)
}
