// Package client consumes the chat stream API: it opens turns, parses the
// event stream incrementally, watches the connection for stalls and keeps
// a UI-facing session state.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/reddichat/internal/stream"
)

// maxLineSize bounds one event line.
const maxLineSize = 1 << 20

// Options tunes stream consumption.
type Options struct {
	FlushInterval     time.Duration // default 50ms
	FlushThreshold    int           // bytes, default 256
	Timeout           time.Duration // default 30s
	HeartbeatInterval time.Duration // default 10s
	MaxRetries        int           // default 3

	// StrictHeartbeat keeps the heartbeat armed while a tool runs. By
	// default a running tool is only bound by Timeout, since the server
	// sends nothing between tool_start and tool_end.
	StrictHeartbeat bool
}

func (o *Options) defaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 50 * time.Millisecond
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = 256
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Options    Options
}

// Client talks to a ReddiChat server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	opts    Options
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	cfg.Options.defaults()
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
		logger:  logger.With("component", "client"),
		opts:    cfg.Options,
	}, nil
}

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// File is a file sent along with a message.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request is one chat turn.
type Request struct {
	Message        string
	ConversationID string
	Files          []File
	AttachmentIDs  []string
}

func (r Request) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{{"message", r.Message}}
	if r.ConversationID != "" {
		fields = append(fields, [2]string{"conversation_id", r.ConversationID})
	}
	if len(r.AttachmentIDs) > 0 {
		fields = append(fields, [2]string{"attachment_ids", strings.Join(r.AttachmentIDs, ",")})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	for _, f := range r.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name": "files", "filename": f.Name,
		}))
		ct := f.MIMEType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Open starts a turn and returns its event stream. The stream is watched
// from the moment the request is sent: no bytes within Options.Timeout
// fails it with ErrTimeout, and once data flows a heartbeat every
// Options.HeartbeatInterval fails it with ErrConnectionDead when nothing
// arrived since the previous beat. Unless Options.StrictHeartbeat is set,
// tool executions are only bound by the timeout. Non-2xx answers are
// returned as *ServerError.
func (c *Client) Open(ctx context.Context, req Request) (*EventStream, error) {
	body, contentType, err := req.encode()
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}

	sctx, cancel := context.WithCancelCause(ctx)
	es := &EventStream{
		events:   make(chan stream.Event),
		activity: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		cancel:   cancel,
		logger:   c.logger,
	}

	hreq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.baseURL+"/api/chat/stream", body)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", contentType)
	hreq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.token)
	}

	es.wg.Add(1)
	go es.watch(c.opts)

	resp, err := c.http.Do(hreq)
	if err != nil {
		es.halt()
		if cause := context.Cause(sctx); cause != nil && ctx.Err() == nil {
			return nil, cause
		}
		return nil, err
	}
	es.touch()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		es.halt()
		return nil, readServerError(resp)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		es.halt()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrParse, resp.Header.Get("Content-Type"))
	}

	es.body = resp.Body
	es.wg.Add(1)
	go es.read(sctx)
	return es, nil
}

// readServerError extracts the message of a failed answer, which is
// either a single stream error event or a JSON {"error": ...} body.
func readServerError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &ServerError{Status: resp.StatusCode}

	for line := range strings.Lines(string(data)) {
		if ev, ok, err := stream.ParseLine(line); err == nil && ok && ev.Type == stream.TypeError {
			se.Message = ev.Content
			return se
		}
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.Message = body.Error
	}
	return se
}

// EventStream is an open turn. Events are delivered in wire order on an
// unbuffered channel, which is closed when the stream ends; Err then
// reports why.
type EventStream struct {
	events   chan stream.Event
	activity chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelCauseFunc
	body     io.ReadCloser
	logger   *slog.Logger
	wg       sync.WaitGroup

	activeTools atomic.Int32
	err         error
}

// Events returns the event channel.
func (es *EventStream) Events() <-chan stream.Event { return es.events }

// Err returns the error that ended the stream. It is only meaningful
// after Events is closed: nil means a terminal event was received.
func (es *EventStream) Err() error { return es.err }

// Close aborts the stream and waits for its goroutines. Safe to call more
// than once.
func (es *EventStream) Close() {
	es.cancel(context.Canceled)
	es.halt()
	for range es.events {
	}
}

// halt stops the watchdog.
func (es *EventStream) halt() {
	es.stopOnce.Do(func() { close(es.stop) })
	es.wg.Wait()
}

// touch records activity without blocking.
func (es *EventStream) touch() {
	select {
	case es.activity <- struct{}{}:
	default:
	}
}

func (es *EventStream) watch(opts Options) {
	defer es.wg.Done()

	idle := time.NewTimer(opts.Timeout)
	defer idle.Stop()
	beat := time.NewTicker(opts.HeartbeatInterval)
	defer beat.Stop()

	started := false
	active := false // activity since the previous beat
	for {
		select {
		case <-es.stop:
			return
		case <-es.activity:
			started, active = true, true
			idle.Reset(opts.Timeout)
		case <-idle.C:
			es.cancel(ErrTimeout)
			return
		case <-beat.C:
			toolRunning := !opts.StrictHeartbeat && es.activeTools.Load() > 0
			if started && !active && !toolRunning {
				es.cancel(ErrConnectionDead)
				return
			}
			active = false
		}
	}
}

func (es *EventStream) read(ctx context.Context) {
	defer es.wg.Done()
	defer close(es.events)
	defer es.body.Close()

	sc := bufio.NewScanner(activityReader{r: es.body, touch: es.touch})
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	terminal := false
	for !terminal && sc.Scan() {
		ev, ok, err := stream.ParseLine(sc.Text())
		if err != nil {
			es.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		if !ok {
			continue
		}
		switch ev.Type {
		case stream.TypeToolStart:
			es.activeTools.Add(1)
		case stream.TypeToolEnd:
			es.activeTools.Add(-1)
		}
		terminal = ev.Type.Terminal()

		select {
		case es.events <- ev:
		case <-ctx.Done():
			es.err = context.Cause(ctx)
			es.stopOnce.Do(func() { close(es.stop) })
			return
		}
	}

	switch err := sc.Err(); {
	case terminal:
	case ctx.Err() != nil:
		es.err = context.Cause(ctx)
	case errors.Is(err, bufio.ErrTooLong):
		es.err = fmt.Errorf("%w: %w", ErrParse, err)
	case err != nil:
		es.err = err
	default:
		es.err = ErrIncompleteStream
	}
	es.stopOnce.Do(func() { close(es.stop) })
}

// activityReader reports every successful read.
type activityReader struct {
	r     io.Reader
	touch func()
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}
