// Package sse implements the Server-Sent-Events framing used between the
// model provider, this service and the browser client.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Delimiter terminates the frames this service writes
const Delimiter = "\n\n"

var delim = []byte(Delimiter)

// FrameBuffer accumulates bytes from a chunked transport and releases only
// complete, delimiter-terminated frames. A trailing partial frame is held
// until more bytes arrive or Flush is called.
type FrameBuffer struct {
	buf []byte
}

// Write appends p and returns every frame completed by it, delimiter included.
// A frame ends at a blank line; lines may end in "\n", "\r\n" or "\r".
// Returned slices do not alias the internal buffer.
func (b *FrameBuffer) Write(p []byte) [][]byte {
	b.buf = append(b.buf, p...)
	var frames [][]byte
	for {
		end := frameEnd(b.buf)
		if end < 0 {
			break
		}
		frame := make([]byte, end)
		copy(frame, b.buf[:end])
		frames = append(frames, frame)
		b.buf = b.buf[end:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return frames
}

// frameEnd returns the length of the first complete frame in buf, or -1.
// A "\r" as the last byte may still become "\r\n", so it waits for more input.
func frameEnd(buf []byte) int {
	lineStart := false
	for i := 0; i < len(buf); {
		n := 0
		switch buf[i] {
		case '\n':
			n = 1
		case '\r':
			if i+1 == len(buf) {
				return -1
			}
			n = 1
			if buf[i+1] == '\n' {
				n = 2
			}
		}
		if n == 0 {
			lineStart = false
			i++
			continue
		}
		if lineStart {
			return i + n
		}
		lineStart = true
		i += n
	}
	return -1
}

// Flush returns the held partial frame (possibly empty) and resets the buffer
func (b *FrameBuffer) Flush() []byte {
	out := b.buf
	b.buf = nil
	return out
}

// Pending reports how many bytes are held waiting for a delimiter
func (b *FrameBuffer) Pending() int {
	return len(b.buf)
}

// ReadFrames reads r in chunks and calls fn for every complete frame. At EOF
// a held partial frame is passed to fn as-is rather than dropped.
func ReadFrames(ctx context.Context, r io.Reader, fn func(frame []byte) error) error {
	var fb FrameBuffer
	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, frame := range fb.Write(chunk[:n]) {
				if ferr := fn(frame); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if rest := fb.Flush(); len(rest) > 0 {
				return fn(rest)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Data extracts the payload of a frame's data lines, joined with newlines as
// the SSE format prescribes. ok is false for frames without data (comments,
// keep-alives).
func Data(frame []byte) (payload []byte, ok bool) {
	var parts [][]byte
	normalized := bytes.ReplaceAll(frame, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))
	for _, line := range bytes.Split(normalized, []byte("\n")) {
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		v := line[len("data:"):]
		v = bytes.TrimPrefix(v, []byte(" "))
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}

type flusher interface {
	Flush()
}

// Encoder writes JSON events as SSE frames and flushes after each one when
// the writer supports it.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as one "data: <json>\n\n" frame
func (e *Encoder) Encode(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return e.WriteFrame(append(append([]byte("data: "), b...), delim...))
}

// WriteFrame writes an already framed unit unchanged
func (e *Encoder) WriteFrame(frame []byte) error {
	if _, err := e.w.Write(frame); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}
