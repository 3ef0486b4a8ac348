package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameRecorder records each Write separately
type frameRecorder struct {
	*httptest.ResponseRecorder
	writes []string
}

func (r *frameRecorder) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return r.ResponseRecorder.Write(p)
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func upstream(t *testing.T, status int, header http.Header, pieces ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		for k, vs := range header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(status)
		flusher := w.(http.Flusher)
		for _, p := range pieces {
			fmt.Fprint(w, p)
			flusher.Flush()
		}
	}))
}

func TestGatewayChat_ForwardsFramesUnchanged(t *testing.T) {
	start := `data: {"type":"text-start","id":"m1"}` + "\n\n"
	d1 := `data: {"type":"text-delta","id":"m1","delta":"Hel"}` + "\n\n"
	d2 := `data: {"type":"text-delta","id":"m1","delta":"lo"}` + "\n\n"
	end := `data: {"type":"text-end","id":"m1"}` + "\n\n"

	header := http.Header{}
	header.Set("Content-Type", "text/event-stream")
	header.Set(ConversationHeader, "conv-42")

	// Upstream writes split frames and coalesced frames.
	server := upstream(t, http.StatusOK, header, start[:7], start[7:]+d1[:12], d1[12:]+d2+end)
	defer server.Close()

	rec := newFrameRecorder()
	frames, err := NewGateway(server.URL+"/").Chat(context.Background(), rec, strings.NewReader(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 4, frames)
	assert.Equal(t, []string{start, d1, d2, end}, rec.writes)
	assert.Equal(t, start+d1+d2+end, rec.Body.String())
	assert.Equal(t, []string{"conv-42"}, rec.Header().Values(ConversationHeader))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
}

func TestGatewayChat_FlushesTrailingPartialFrame(t *testing.T) {
	d1 := `data: {"type":"text-delta","id":"m1","delta":"a"}` + "\n\n"
	partial := `data: {"type":"text-delta","id":"m1","delta":"b"}`

	server := upstream(t, http.StatusOK, nil, d1, partial)
	defer server.Close()

	rec := newFrameRecorder()
	frames, err := NewGateway(server.URL).Chat(context.Background(), rec, strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, frames)
	assert.Equal(t, []string{d1, partial}, rec.writes)
}

func TestGatewayChat_PassesErrorStatus(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	server := upstream(t, http.StatusConflict, header, `{"error":"conversation busy"}`)
	defer server.Close()

	rec := newFrameRecorder()
	_, err := NewGateway(server.URL).Chat(context.Background(), rec, strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"conversation busy"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Values(ConversationHeader))
}

func TestGatewayChat_UpstreamDown(t *testing.T) {
	server := upstream(t, http.StatusOK, nil)
	url := server.URL
	server.Close()

	rec := newFrameRecorder()
	_, err := NewGateway(url).Chat(context.Background(), rec, io.NopCloser(strings.NewReader(`{}`)))
	require.Error(t, err)
	assert.Empty(t, rec.writes)
}
