package gateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/provider/providertest"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store/storetest"
	"github.com/flemzord/reddichat/internal/stream"
	"github.com/flemzord/reddichat/internal/telemetry"
	"github.com/flemzord/reddichat/internal/tool"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testUser   = "user-1"
)

// noRedirect leaves redirects to the test.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

type testEnv struct {
	gateway *Gateway
	server  *httptest.Server
	store   *storetest.Memory
	metrics *telemetry.Metrics
	token   string
	jwt     *auth.JWT
}

type envOption func(*Config, *Deps)

func withLimiter(cfg security.RateLimitConfig) envOption {
	return func(_ *Config, d *Deps) { d.Limiter = security.NewRateLimiter(cfg) }
}

func withReddit(r RedditProfiles) envOption {
	return func(_ *Config, d *Deps) { d.Reddit = r }
}

func withMaxMessage(n int) envOption {
	return func(c *Config, _ *Deps) { c.MaxMessageSize = n }
}

func withOrigins(origins ...string) envOption {
	return func(c *Config, _ *Deps) { c.AllowedOrigins = origins }
}

// newTestEnv serves a gateway whose model always answers "## Hello".
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	mp := &providertest.MockProvider{
		StreamFunc: func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return providertest.Chunks(
				provider.StreamChunk{Content: "## Hello"},
				provider.StreamChunk{Content: " there"},
			), nil
		},
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{Content: "## Hello there"}, nil
		},
	}
	reg := tool.NewRegistry()
	mem := storetest.NewMemory()
	local, err := storage.NewLocal(t.TempDir(), "http://files.test/files")
	if err != nil {
		t.Fatal(err)
	}
	metrics := telemetry.NewMetrics()

	svc, err := chat.New(chat.Deps{
		Store:    mem,
		Uploader: local,
		Loop:     agent.NewLoop(mp, agent.NewToolExecutor(reg), agent.LoopConfig{}),
		Tools:    reg,
		Metrics:  metrics,
	}, chat.Config{})
	if err != nil {
		t.Fatal(err)
	}

	jwt, err := auth.NewJWT(auth.Config{Secret: testSecret, Issuer: "reddichat"})
	if err != nil {
		t.Fatal(err)
	}
	token, err := jwt.Issue(auth.User{ID: testUser}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Chat:     svc,
		Store:    mem,
		Storage:  local,
		Auth:     jwt,
		Provider: mp,
		Metrics:  metrics,
	}
	var cfg Config
	for _, o := range opts {
		o(&cfg, &deps)
	}
	g, err := New(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{gateway: g, server: srv, store: mem, metrics: metrics, token: token, jwt: jwt}
}

func (e *testEnv) tokenFor(t *testing.T, user string) string {
	t.Helper()
	tok, err := e.jwt.Issue(auth.User{ID: user}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// do sends a request with the default user's token unless token is
// overridden with a non-nil pointer.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string, token *string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	tok := e.token
	if token != nil {
		tok = *token
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	return e.do(t, method, path, r, "application/json", nil)
}

type formFile struct {
	name, mime string
	data       []byte
}

// multipartBody encodes fields and files as multipart/form-data.
func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		h.Set("Content-Type", f.mime)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

// readEvents parses an SSE body.
func readEvents(t *testing.T, body io.Reader) []stream.Event {
	t.Helper()
	var events []stream.Event
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		ev, ok, err := stream.ParseLine(sc.Text())
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", sc.Text(), err)
		}
		if ok {
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return events
}

// fakeReddit serves canned profile data.
type fakeReddit struct {
	user  reddit.User
	err   error
	calls atomic.Int32
}

func (f *fakeReddit) User(context.Context, string) (reddit.User, error) {
	f.calls.Add(1)
	return f.user, f.err
}

func (f *fakeReddit) UserPosts(_ context.Context, _, after string, limit int) (reddit.Page[reddit.UserPost], error) {
	f.calls.Add(1)
	if f.err != nil {
		return reddit.Page[reddit.UserPost]{}, f.err
	}
	items := make([]reddit.UserPost, limit)
	for i := range items {
		items[i] = reddit.UserPost{ID: fmt.Sprintf("p%d", i)}
	}
	return reddit.Page[reddit.UserPost]{Items: items, After: after + "next", HasMore: true}, nil
}

func (f *fakeReddit) UserComments(context.Context, string, string, int) (reddit.Page[reddit.UserComment], error) {
	f.calls.Add(1)
	return reddit.Page[reddit.UserComment]{Items: []reddit.UserComment{}}, f.err
}
