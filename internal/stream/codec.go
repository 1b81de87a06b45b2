package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// ErrMalformed reports a data line that is not a valid event.
var ErrMalformed = errors.New("stream: malformed event")

// Encode renders ev as a single SSE frame: "data: <JSON>\n\n".
func Encode(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		payload, _ = json.Marshal(Failed("An error occurred"))
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// ParseLine decodes one line of an SSE body. ok is false for lines that
// carry no event: blanks, comments, other fields and the [DONE] sentinel.
func ParseLine(line string) (ev Event, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	data, found := strings.CutPrefix(line, dataPrefix)
	if !found {
		return Event{}, false, nil
	}
	data = strings.TrimSpace(data)
	if data == "" || data == doneSentinel {
		return Event{}, false, nil
	}

	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch ev.Type {
	case TypeContent, TypeToolStart, TypeToolEnd, TypeDone, TypeError:
		return ev, true, nil
	default:
		return Event{}, false, fmt.Errorf("%w: unknown type %q", ErrMalformed, ev.Type)
	}
}

// SetHeaders applies the SSE response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer sends events to an HTTP response, flushing after each one.
type Writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewWriter wraps w. Headers are not written until the first Send or
// WriteHeader call.
func NewWriter(w http.ResponseWriter) *Writer {
	SetHeaders(w.Header())
	return &Writer{w: w, rc: http.NewResponseController(w)}
}

// WriteHeader sends the status line with the SSE headers.
func (sw *Writer) WriteHeader(status int) {
	sw.w.WriteHeader(status)
}

// Send writes and flushes one event.
func (sw *Writer) Send(ev Event) error {
	if _, err := sw.w.Write(Encode(ev)); err != nil {
		return err
	}
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
