package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"devdocs-chat/sse"
)

// ConversationHeader carries the conversation id outside the event body
const ConversationHeader = "X-Conversation-Id"

// Forward copies an upstream event stream response to w. Frames are written
// unchanged and in order, one write and flush per frame; a trailing partial
// frame is written as-is when upstream closes. The conversation id header is
// set once, before the first byte of body.
func Forward(ctx context.Context, w http.ResponseWriter, resp *http.Response) (int, error) {
	h := w.Header()
	for _, name := range []string{"Content-Type", "Cache-Control", ConversationHeader} {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		h.Set("X-Accel-Buffering", "no")
	}
	w.WriteHeader(resp.StatusCode)

	enc := sse.NewEncoder(w)
	frames := 0
	err := sse.ReadFrames(ctx, resp.Body, func(frame []byte) error {
		if err := enc.WriteFrame(frame); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		frames++
		return nil
	})
	return frames, err
}

// Gateway forwards chat turns to another instance of this service, the way
// an edge proxy sits in front of the backend.
type Gateway struct {
	upstream string
	client   *http.Client
}

// NewGateway creates a gateway for upstream, the base URL of the backend
func NewGateway(upstream string) *Gateway {
	return &Gateway{
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{},
	}
}

// Chat posts body to the upstream chat endpoint and forwards the response.
// Request errors happen before anything is written to w.
func (g *Gateway) Chat(ctx context.Context, w http.ResponseWriter, body io.Reader) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.upstream+"/api/chat", body)
	if err != nil {
		return 0, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach upstream: %w", err)
	}
	defer resp.Body.Close()

	return Forward(ctx, w, resp)
}
