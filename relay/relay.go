// Package relay turns one model completion into an ordered event sequence,
// whether the provider streams fragments or returns the whole text at once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"devdocs-chat/models"
	"devdocs-chat/services"

	"github.com/google/uuid"
)

// Mode selects how provider output is obtained
type Mode int

const (
	// ModeWhole fetches the full response and slices it into fixed-size deltas.
	ModeWhole Mode = iota
	// ModeNative forwards provider fragments as they arrive.
	ModeNative
)

func (m Mode) String() string {
	if m == ModeNative {
		return "native"
	}
	return "whole"
}

// ErrInterrupted is returned by Wait when output stopped after text-start
var ErrInterrupted = errors.New("response interrupted")

// Options configures a Relay
type Options struct {
	// ChunkSize is the fragment length, in characters, used in whole mode.
	ChunkSize int
	// BufferSize bounds the event channel. Writers block when it is full.
	BufferSize int
	// Timeout bounds the provider call. Zero means no limit.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{ChunkSize: 20, BufferSize: 16, Timeout: 120 * time.Second}
}

// Relay runs completions against a single provider
type Relay struct {
	provider services.Provider
	opts     Options
}

func New(provider services.Provider, opts Options) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Relay{provider: provider, opts: opts}
}

// ModeFor picks native mode only when the caller asked to stream and the
// provider can deliver incremental output.
func (r *Relay) ModeFor(stream bool) Mode {
	if stream && r.provider.SupportsStreaming() {
		return ModeNative
	}
	return ModeWhole
}

// Stream is one running completion. Events is closed after the terminating
// event, or early when the caller's context is cancelled.
type Stream struct {
	id     string
	mode   Mode
	events chan models.Event
	done   chan struct{}

	text  string
	err   error
	usage services.Completion
}

// ID returns the message id carried by the stream's events
func (s *Stream) ID() string { return s.id }

func (s *Stream) Mode() Mode { return s.mode }

func (s *Stream) Events() <-chan models.Event { return s.events }

// Wait blocks until the producer exits and returns the text emitted as
// deltas. err is nil only if text-end was reached.
func (s *Stream) Wait() (string, error) {
	<-s.done
	return s.text, s.err
}

// Usage returns the token counts reported by the provider. Only whole mode
// completions carry them; call after Wait.
func (s *Stream) Usage() (input, output int) {
	<-s.done
	return s.usage.InputTokens, s.usage.OutputTokens
}

// Run starts the completion and returns immediately. Cancelling ctx stops
// event delivery and cancels the provider call.
func (r *Relay) Run(ctx context.Context, req services.CompletionRequest, mode Mode) *Stream {
	s := &Stream{
		id:     "msg_" + uuid.NewString(),
		mode:   mode,
		events: make(chan models.Event, r.opts.BufferSize),
		done:   make(chan struct{}),
	}
	go r.produce(ctx, req, s)
	return s
}

func (r *Relay) produce(ctx context.Context, req services.CompletionRequest, s *Stream) {
	defer close(s.done)
	defer close(s.events)

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if r.opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e := &emitter{ctx: ctx, out: s.events, id: s.id}
	var err error
	switch s.mode {
	case ModeNative:
		err = r.provider.Stream(callCtx, req, e.delta)
	default:
		var completion services.Completion
		completion, err = r.provider.Complete(callCtx, req)
		if err == nil {
			s.usage = services.Completion{InputTokens: completion.InputTokens, OutputTokens: completion.OutputTokens}
			for _, chunk := range Chunks(completion.Content, r.opts.ChunkSize) {
				if err = e.delta(chunk); err != nil {
					break
				}
			}
		}
	}
	s.text = e.text.String()

	if ctx.Err() != nil {
		// Client went away; nothing more is delivered.
		s.err = ctx.Err()
		return
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("provider call timed out after %s: %w", r.opts.Timeout, err)
		}
		log.Printf("Relay %s (%s mode, %s) failed after %d deltas: %v", s.id, s.mode, r.provider.Name(), e.deltas, err)
		s.err = err
		if e.started {
			s.err = fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		e.send(models.ErrorEvent(clientMessage(err, e.started)))
		return
	}

	if err := e.start(); err != nil {
		s.err = err
		return
	}
	if err := e.send(models.EndEvent(s.id)); err != nil {
		s.err = err
	}
}

// clientMessage keeps provider internals out of the event stream
func clientMessage(err error, started bool) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The response timed out."
	case started:
		return "The response was interrupted."
	case errors.Is(err, services.ErrProviderUnavailable):
		return "The model provider is unavailable. Please try again later."
	default:
		return "The response could not be generated."
	}
}

// emitter enforces the start/delta ordering for one stream
type emitter struct {
	ctx     context.Context
	out     chan<- models.Event
	id      string
	started bool
	deltas  int
	text    strings.Builder
}

// send blocks until the consumer takes ev or ctx is cancelled
func (e *emitter) send(ev models.Event) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *emitter) start() error {
	if e.started {
		return nil
	}
	if err := e.send(models.StartEvent(e.id)); err != nil {
		return err
	}
	e.started = true
	return nil
}

func (e *emitter) delta(fragment string) error {
	if fragment == "" {
		return nil
	}
	if err := e.start(); err != nil {
		return err
	}
	if err := e.send(models.DeltaEvent(e.id, fragment)); err != nil {
		return err
	}
	e.deltas++
	e.text.WriteString(fragment)
	return nil
}

// Chunks slices text into pieces of at most size characters without
// splitting a UTF-8 sequence. Concatenating the result yields text.
func Chunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	var out []string
	count, start := 0, 0
	for i := range text {
		if count == size {
			out = append(out, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(out, text[start:])
}
