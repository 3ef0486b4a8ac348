package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type dummyAction struct {
	kind string
	arg  string
}

// parseDummyScript parses a comma separated action list:
//
//	ok            reply "dummy-ok"
//	msg:a|b|c     reply "abc", streamed as fragments "a", "b", "c"
//	msgb64:<b64>  like msg, base64 encoded (for text containing commas)
//	err:<class>   fail before producing output
//	cut:a|b       stream "a", "b" then fail mid-stream
func parseDummyScript(script string) ([]dummyAction, error) {
	if strings.TrimSpace(script) == "" {
		return []dummyAction{{kind: "ok"}}, nil
	}
	var actions []dummyAction
	for _, p := range strings.Split(script, ",") {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, dummyAction{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "msg", "err", "cut":
		case "msgb64":
			raw, err := base64.StdEncoding.DecodeString(arg)
			if err != nil {
				return nil, fmt.Errorf("dummy msgb64 decode failed: %w", err)
			}
			kind, arg = "msg", string(raw)
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, dummyAction{kind: kind, arg: arg})
	}
	if len(actions) == 0 {
		actions = append(actions, dummyAction{kind: "ok"})
	}
	return actions, nil
}

// DummyProvider replays a scripted sequence of responses, one action per
// call. The last action repeats once the script is exhausted.
type DummyProvider struct {
	mu        sync.Mutex
	actions   []dummyAction
	index     int
	requests  []CompletionRequest
	streaming bool
	active    atomic.Int32

	// FragmentDelay is slept (context aware) before each streamed fragment
	// and before a whole response is returned.
	FragmentDelay time.Duration
}

// NewDummyProvider creates a scripted provider. streaming controls the
// reported capability only; Stream always works.
func NewDummyProvider(script string, streaming bool) (*DummyProvider, error) {
	actions, err := parseDummyScript(script)
	if err != nil {
		return nil, err
	}
	return &DummyProvider{actions: actions, streaming: streaming}, nil
}

func (p *DummyProvider) Name() string { return "dummy" }

func (p *DummyProvider) SupportsStreaming() bool { return p.streaming }

func (p *DummyProvider) next(req CompletionRequest) dummyAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	a := p.actions[len(p.actions)-1]
	if p.index < len(p.actions) {
		a = p.actions[p.index]
		p.index++
	}
	return a
}

// Requests returns every request received so far
func (p *DummyProvider) Requests() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Active reports how many calls are currently running
func (p *DummyProvider) Active() int {
	return int(p.active.Load())
}

func (p *DummyProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	a := p.next(req)
	if err := p.pause(ctx); err != nil {
		return Completion{}, err
	}
	switch a.kind {
	case "ok":
		return Completion{Content: "dummy-ok", InputTokens: 1, OutputTokens: 1}, nil
	case "msg":
		text := strings.ReplaceAll(a.arg, "|", "")
		return Completion{Content: text, InputTokens: 1, OutputTokens: len(strings.Split(a.arg, "|"))}, nil
	case "err":
		return Completion{}, fmt.Errorf("%w: dummy provider error class=%s", ErrProviderUnavailable, emptyAs(a.arg, "model_api"))
	default:
		return Completion{}, fmt.Errorf("dummy provider connection reset")
	}
}

func (p *DummyProvider) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) error {
	p.active.Add(1)
	defer p.active.Add(-1)

	a := p.next(req)
	var fragments []string
	switch a.kind {
	case "ok":
		fragments = []string{"dummy-ok"}
	case "msg", "cut":
		fragments = strings.Split(a.arg, "|")
	case "err":
		return fmt.Errorf("%w: dummy provider error class=%s", ErrProviderUnavailable, emptyAs(a.arg, "model_api"))
	}

	for _, f := range fragments {
		if err := p.pause(ctx); err != nil {
			return err
		}
		if f == "" {
			continue
		}
		if err := onDelta(f); err != nil {
			return err
		}
	}
	if a.kind == "cut" {
		return fmt.Errorf("dummy provider connection reset")
	}
	return nil
}

// pause sleeps FragmentDelay unless ctx ends first
func (p *DummyProvider) pause(ctx context.Context) error {
	if p.FragmentDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.FragmentDelay):
		}
	}
	return ctx.Err()
}

func emptyAs(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

var _ Provider = (*DummyProvider)(nil)
