package stream

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

// Decoder turns a chunked event-stream body into discrete frames. It is
// push-based: callers append raw chunks with Feed and receive every frame
// completed so far. A Decoder is not restartable, mirroring the transport.
type Decoder struct {
	pending string
	escaped bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// escapedToken matches a literal \n escape that precedes a field name or
// another escape. Used by the escaped-newline recovery rewrite.
var escapedToken = regexp.MustCompile(`\\n(event:|data:|\\n)`)

// Feed appends a chunk and returns all frames completed by it, in order.
// Frames are delimited by a blank line; a trailing partial frame stays
// buffered until the delimiter (or Flush) arrives, so a chunk boundary in
// the middle of an escape sequence or a multi-byte character is safe.
func (d *Decoder) Feed(chunk []byte) []models.Frame {
	d.pending += string(chunk)

	// Escaped-newline recovery: some server responses arrive with every
	// newline escaped as a literal \n sequence. Detected once, when the
	// accumulated text carries escapes but no real newline; the switch is
	// one-way for the rest of the stream. Best effort: a stream that
	// legitimately contains literal backslash-n text can misfire this.
	if !d.escaped && strings.Contains(d.pending, `\n`) && !strings.Contains(d.pending, "\n") {
		d.escaped = true
	}
	if d.escaped {
		d.pending = unescapeStreamText(d.pending)
	}

	segments := strings.Split(d.pending, "\n\n")
	d.pending = segments[len(segments)-1]

	var frames []models.Frame
	for _, segment := range segments[:len(segments)-1] {
		if frame, ok := parseFrame(segment); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush drains a trailing partial frame once the transport has closed.
func (d *Decoder) Flush() []models.Frame {
	text := d.pending
	d.pending = ""
	if frame, ok := parseFrame(text); ok {
		return []models.Frame{frame}
	}
	return nil
}

// unescapeStreamText rewrites \n escapes that precede event:, data: or
// another escape into real newlines. Looped because consecutive escapes
// only become visible after the one before them is rewritten.
func unescapeStreamText(text string) string {
	for i := 0; i < 16; i++ {
		next := escapedToken.ReplaceAllString(text, "\n$1")
		if next == text {
			return text
		}
		text = next
	}
	return text
}

// parseFrame decodes one delimited segment. Within a frame the last
// event: line wins, data: lines are collected and joined with newlines,
// and bare non-empty lines are leniently treated as data. A frame with no
// data lines is discarded.
func parseFrame(text string) (models.Frame, bool) {
	event := ""
	var data []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			value = strings.TrimPrefix(value, " ")
			data = append(data, value)
		case strings.HasPrefix(line, ":"):
			// SSE comment line
		case strings.TrimSpace(line) != "":
			data = append(data, line)
		}
	}

	if len(data) == 0 {
		return models.Frame{}, false
	}
	if event == "" {
		event = "message"
	}
	return models.Frame{Event: event, Data: strings.Join(data, "\n")}, true
}

// Scan drives a fresh Decoder over a streaming response body, invoking fn
// for each frame in arrival order. fn returning false stops the scan (used
// for cooperative cancellation); frames still in flight are discarded.
func Scan(ctx context.Context, r io.Reader, fn func(models.Frame) bool) error {
	decoder := NewDecoder()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range decoder.Feed(buf[:n]) {
				if !fn(frame) {
					return nil
				}
			}
		}
		if err == io.EOF {
			for _, frame := range decoder.Flush() {
				if !fn(frame) {
					return nil
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
