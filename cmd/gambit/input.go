package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gwire"
)

type lineKind int

const (
	lineSkip lineKind = iota
	lineInput
	lineCommand
	linePause
	lineResume
)

type parsedLine struct {
	Kind lineKind

	Input   ginput.Input
	Command string
}

// parseLine interprets one line of standard input:
//
//	code [param]   queue an input
//	!code [param]  queue an input the server must acknowledge
//	/code          queue a debug command
//	.pause         stop ticking
//	.resume        resume ticking
//
// Blank lines and lines starting with # are skipped.
func parseLine(line string) parsedLine {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return parsedLine{}
	}

	switch line {
	case ".pause":
		return parsedLine{Kind: linePause}
	case ".resume":
		return parsedLine{Kind: lineResume}
	}

	if cmd, ok := strings.CutPrefix(line, "/"); ok {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			return parsedLine{}
		}
		return parsedLine{Kind: lineCommand, Command: cmd}
	}

	var in ginput.Input
	if rest, ok := strings.CutPrefix(line, "!"); ok {
		in.AckRequired = true
		line = strings.TrimSpace(rest)
	}

	code, param, _ := strings.Cut(line, " ")
	if code == "" {
		return parsedLine{}
	}
	in.Code = code
	if param = strings.TrimSpace(param); param != "" {
		in.Param = []byte(param)
	}

	return parsedLine{Kind: lineInput, Input: in}
}

// commandQueue is a bounded [gambit.CommandSource] fed from standard input.
type commandQueue struct {
	ch chan string
}

func newCommandQueue(size int) *commandQueue {
	return &commandQueue{ch: make(chan string, size)}
}

// Push queues code, reporting false if the queue is full.
func (q *commandQueue) Push(code string) bool {
	select {
	case q.ch <- code:
		return true
	default:
		return false
	}
}

func (q *commandQueue) NextCommand() (string, bool) {
	select {
	case code := <-q.ch:
		return code, true
	default:
		return "", false
	}
}

type pauser interface {
	Pause()
	Resume()
}

// readInputs feeds lines from r into the input queue and command queue
// until r is exhausted or ctx is canceled.
func readInputs(
	ctx context.Context,
	log *slog.Logger,
	r io.Reader,
	inputs *ginput.Queue,
	cmds *commandQueue,
	ticker pauser,
) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		p := parseLine(s.Text())
		switch p.Kind {
		case lineSkip:
			// Nothing.

		case lineInput:
			in, err := inputs.Enqueue(p.Input)
			if err != nil {
				if errors.Is(err, ginput.ErrQueueFull) || errors.Is(err, ginput.ErrInputTooLarge) {
					log.Warn("Dropping input", "len", len(p.Input.Code), "err", err)
					continue
				}
				return fmt.Errorf("failed to enqueue input: %w", err)
			}
			log.Debug("Queued input", "code", in.Code, "id", in.ID, "ack_required", in.AckRequired)

		case lineCommand:
			if len(p.Command) > gwire.MaxCodeSize {
				log.Warn("Dropping debug command; code too long", "len", len(p.Command))
				continue
			}
			if !cmds.Push(p.Command) {
				log.Warn("Dropping debug command; too many pending", "code", p.Command)
			}

		case linePause:
			ticker.Pause()
			log.Info("Paused")

		case lineResume:
			ticker.Resume()
			log.Info("Resumed")

		default:
			panic(fmt.Errorf("BUG: unhandled line kind %d", p.Kind))
		}
	}

	if err := s.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
