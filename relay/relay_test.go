package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"devdocs-chat/models"
	"devdocs-chat/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dummy(t *testing.T, script string, streaming bool) *services.DummyProvider {
	t.Helper()
	p, err := services.NewDummyProvider(script, streaming)
	require.NoError(t, err)
	return p
}

func drain(s *Stream) []models.Event {
	var out []models.Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

// checkOrdering asserts one start, deltas only after it, and exactly one
// terminator as the last event.
func checkOrdering(t *testing.T, id string, events []models.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	starts, terminators := 0, 0
	for i, ev := range events {
		switch ev.Type {
		case models.EventTextStart:
			starts++
			assert.Equal(t, 0, i, "start must come first")
			assert.Equal(t, id, ev.ID)
		case models.EventTextDelta:
			assert.Equal(t, 1, starts, "delta before start")
			assert.Equal(t, id, ev.ID)
		}
		if ev.Terminal() {
			terminators++
			assert.Equal(t, len(events)-1, i, "events after terminator")
		}
	}
	assert.LessOrEqual(t, starts, 1)
	assert.Equal(t, 1, terminators)
}

func joinDeltas(events []models.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == models.EventTextDelta {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String()
}

func TestRun_RoundTripBothModes(t *testing.T) {
	text := "Go's goroutines are cheap. Channels ~ and select ~ coordinate them: 日本語も大丈夫。"
	fragments := []string{"Go's gorout", "ines are cheap. Chann", "els ~ and select ~ coordinate", " them: 日本", "語も大丈夫。"}

	tests := []struct {
		name   string
		script string
		stream bool
		mode   Mode
	}{
		{"native", "msg:" + strings.Join(fragments, "|"), true, ModeNative},
		{"whole", "msg:" + text, true, ModeWhole},
		{"whole when provider cannot stream", "msg:" + text, false, ModeWhole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := dummy(t, strings.ReplaceAll(tt.script, ",", ""), tt.mode == ModeNative)
			r := New(p, DefaultOptions())
			mode := r.ModeFor(tt.stream)
			require.Equal(t, tt.mode, mode)

			s := r.Run(context.Background(), services.CompletionRequest{}, mode)
			events := drain(s)
			checkOrdering(t, s.ID(), events)

			want := strings.ReplaceAll(text, ",", "")
			assert.Equal(t, want, joinDeltas(events))
			assert.Equal(t, models.EventTextEnd, events[len(events)-1].Type)

			got, err := s.Wait()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRun_WholeModeChunkLengths(t *testing.T) {
	text := strings.Repeat("abcdefghi", 5)
	require.Len(t, text, 45)

	r := New(dummy(t, "msg:"+text, false), Options{ChunkSize: 20, BufferSize: 4})
	s := r.Run(context.Background(), services.CompletionRequest{}, ModeWhole)
	events := drain(s)

	var lengths []int
	for _, ev := range events {
		if ev.Type == models.EventTextDelta {
			lengths = append(lengths, len(ev.Delta))
		}
	}
	assert.Equal(t, []int{20, 20, 5}, lengths)
	assert.Equal(t, models.EventTextEnd, events[len(events)-1].Type)
}

func TestRun_FailureBeforeStart(t *testing.T) {
	for _, mode := range []Mode{ModeNative, ModeWhole} {
		t.Run(mode.String(), func(t *testing.T) {
			r := New(dummy(t, "err:auth", true), DefaultOptions())
			s := r.Run(context.Background(), services.CompletionRequest{}, mode)
			events := drain(s)

			require.Len(t, events, 1)
			assert.Equal(t, models.EventError, events[0].Type)
			assert.NotEmpty(t, events[0].Message)

			text, err := s.Wait()
			assert.ErrorIs(t, err, services.ErrProviderUnavailable)
			assert.NotErrorIs(t, err, ErrInterrupted)
			assert.Empty(t, text)
		})
	}
}

func TestRun_MidStreamFailure(t *testing.T) {
	r := New(dummy(t, "cut:one|two", true), DefaultOptions())
	s := r.Run(context.Background(), services.CompletionRequest{}, ModeNative)
	events := drain(s)
	checkOrdering(t, s.ID(), events)

	require.Len(t, events, 4)
	assert.Equal(t, "onetwo", joinDeltas(events))
	assert.Equal(t, models.EventError, events[3].Type)

	text, err := s.Wait()
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, "onetwo", text)
}

func TestRun_EmptyCompletion(t *testing.T) {
	r := New(dummy(t, "msg:", false), DefaultOptions())
	s := r.Run(context.Background(), services.CompletionRequest{}, ModeWhole)
	events := drain(s)

	require.Len(t, events, 2)
	assert.Equal(t, models.EventTextStart, events[0].Type)
	assert.Equal(t, models.EventTextEnd, events[1].Type)
}

func TestRun_Timeout(t *testing.T) {
	p := dummy(t, "msg:a|b|c", true)
	p.FragmentDelay = 200 * time.Millisecond
	r := New(p, Options{ChunkSize: 20, BufferSize: 4, Timeout: 20 * time.Millisecond})

	s := r.Run(context.Background(), services.CompletionRequest{}, ModeWhole)
	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "timed out")

	_, err := s.Wait()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Active())
}

func TestRun_TimeoutAfterDeltas(t *testing.T) {
	p := dummy(t, "msg:a|b|c|d|e", true)
	p.FragmentDelay = 40 * time.Millisecond
	r := New(p, Options{ChunkSize: 20, BufferSize: 4, Timeout: 100 * time.Millisecond})

	s := r.Run(context.Background(), services.CompletionRequest{}, ModeNative)
	events := drain(s)
	checkOrdering(t, s.ID(), events)

	last := events[len(events)-1]
	assert.Equal(t, models.EventError, last.Type)
	assert.Contains(t, last.Message, "timed out")
	deltas := joinDeltas(events)
	assert.NotEmpty(t, deltas)
	assert.NotEqual(t, "abcde", deltas)

	text, err := s.Wait()
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, deltas, text)
	assert.Equal(t, 0, p.Active())
}

func TestRun_ClientDisconnect(t *testing.T) {
	p := dummy(t, "msg:a|b|c|d|e", true)
	p.FragmentDelay = 20 * time.Millisecond
	r := New(p, Options{ChunkSize: 20, BufferSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := r.Run(ctx, services.CompletionRequest{}, ModeNative)

	deltas := 0
	for ev := range s.Events() {
		if ev.Type == models.EventTextDelta {
			deltas++
		}
		if deltas == 2 {
			cancel()
			break
		}
	}

	var late []models.Event
	for ev := range s.Events() {
		late = append(late, ev)
	}
	assert.Empty(t, late, "no events after disconnect")

	text, err := s.Wait()
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "ab", text)
	assert.Equal(t, 0, p.Active(), "provider call released")
}

func TestRun_SlowConsumerLosesNothing(t *testing.T) {
	fragments := make([]string, 50)
	for i := range fragments {
		fragments[i] = string(rune('a' + i%26))
	}
	r := New(dummy(t, "msg:"+strings.Join(fragments, "|"), true), Options{ChunkSize: 20, BufferSize: 1})
	s := r.Run(context.Background(), services.CompletionRequest{}, ModeNative)

	var events []models.Event
	for ev := range s.Events() {
		time.Sleep(time.Millisecond)
		events = append(events, ev)
	}
	assert.Len(t, events, 52)
	assert.Equal(t, strings.Join(fragments, ""), joinDeltas(events))
}

func TestChunks(t *testing.T) {
	assert.Nil(t, Chunks("", 20))
	assert.Equal(t, []string{"abc"}, Chunks("abc", 20))
	assert.Equal(t, []string{"ab", "cd", "e"}, Chunks("abcde", 2))
	assert.Equal(t, []string{"日本", "語"}, Chunks("日本語", 2))
	assert.Equal(t, []string{"abc"}, Chunks("abc", 0))
}
