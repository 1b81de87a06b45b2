package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/provider/providertest"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/store/storetest"
	"github.com/flemzord/reddichat/internal/stream"
	"github.com/flemzord/reddichat/internal/tool"
	"github.com/flemzord/reddichat/internal/tool/tooltest"
	"github.com/flemzord/reddichat/internal/tools"
)

const testUser = "user-1"

type harness struct {
	svc      *Service
	store    *storetest.Memory
	provider *providertest.MockProvider
}

// newHarness builds a Service whose provider answers each step with the
// next script entry.
func newHarness(t *testing.T, cfg Config, script ...[]provider.StreamChunk) *harness {
	t.Helper()

	step := 0
	mp := &providertest.MockProvider{
		StreamFunc: func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			if step >= len(script) {
				return providertest.Chunks(provider.StreamChunk{Content: "extra"}), nil
			}
			chunks := script[step]
			step++
			return providertest.Chunks(chunks...), nil
		},
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			if step >= len(script) {
				return provider.CompletionResponse{Content: "extra"}, nil
			}
			var resp provider.CompletionResponse
			for _, c := range script[step] {
				resp.Content += c.Content
				resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
			}
			step++
			return resp, nil
		},
	}

	reg := tool.NewRegistry()
	redditResult := tools.RedditResult{
		Query: "go",
		Posts: []reddit.Post{{
			Title:     "Go is great",
			Subreddit: "golang",
			Author:    "gopher",
			Score:     42,
			Permalink: "https://www.reddit.com/r/golang/comments/1/go",
		}},
	}
	content, _ := json.Marshal(redditResult)
	if err := reg.Register(tooltest.Returning(tools.SearchRedditName, tool.Output{
		Content: string(content),
		Data:    redditResult,
	})); err != nil {
		t.Fatal(err)
	}

	mem := storetest.NewMemory()
	up, err := storage.NewLocal(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Deps{
		Store:    mem,
		Uploader: up,
		Loop:     agent.NewLoop(mp, agent.NewToolExecutor(reg), agent.LoopConfig{}),
		Tools:    reg,
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{svc: svc, store: mem, provider: mp}
}

func text(parts ...string) []provider.StreamChunk {
	out := make([]provider.StreamChunk, len(parts))
	for i, p := range parts {
		out[i] = provider.StreamChunk{Content: p}
	}
	return out
}

func callReddit() []provider.StreamChunk {
	return []provider.StreamChunk{{ToolCalls: []provider.ToolCall{{
		ID:        "call-1",
		Name:      tools.SearchRedditName,
		Arguments: json.RawMessage(`{"query":"go"}`),
	}}}}
}

func collect(t *testing.T, ch <-chan stream.Event) []stream.Event {
	t.Helper()
	var out []stream.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func terminalCount(events []stream.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Type.Terminal() {
			n++
		}
	}
	return n
}

func lastInput(t *testing.T, mp *providertest.MockProvider) provider.LLMMessage {
	t.Helper()
	reqs := mp.Recorded()
	if len(reqs) == 0 {
		t.Fatal("provider was not called")
	}
	msgs := reqs[0].Messages
	return msgs[len(msgs)-1]
}

func TestStream_RedditTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, callReddit(), text("## Go", " is popular"))

	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "What does Reddit think of Go?"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	var types []stream.Type
	var deltas strings.Builder
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.Type == stream.TypeContent {
			deltas.WriteString(ev.Delta)
		}
	}
	want := []stream.Type{stream.TypeToolStart, stream.TypeToolEnd, stream.TypeContent, stream.TypeContent, stream.TypeDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
	if events[0].Tool != tools.SearchRedditName {
		t.Errorf("tool_start tool = %q", events[0].Tool)
	}
	if len(events[1].Result) == 0 {
		t.Error("tool_end should carry the raw result")
	}

	done := events[len(events)-1]
	if done.Content != deltas.String() {
		t.Errorf("done content = %q, want concatenated deltas %q", done.Content, deltas.String())
	}
	if done.ToolUsed == nil || *done.ToolUsed != tools.SearchRedditName {
		t.Errorf("tool_used = %v", done.ToolUsed)
	}
	if len(done.Sources) != 1 || done.Sources[0].Type != source.TypeReddit ||
		done.Sources[0].URL != "https://www.reddit.com/r/golang/comments/1/go" {
		t.Errorf("sources = %+v", done.Sources)
	}

	msgs := h.store.AllMessages()
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Role != store.RoleAssistant || assistant.Content != "## Go is popular" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if assistant.ID != done.MessageID || assistant.ConversationID != done.ConversationID {
		t.Errorf("done ids = %s/%s, stored %s/%s", done.ConversationID, done.MessageID, assistant.ConversationID, assistant.ID)
	}
	if assistant.ToolUsed != tools.SearchRedditName || len(assistant.Sources) != 1 {
		t.Errorf("assistant tool/sources = %q / %d", assistant.ToolUsed, len(assistant.Sources))
	}

	conv, err := h.store.Conversation(context.Background(), done.ConversationID, testUser)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if conv.Title != "What does Reddit think of Go?" {
		t.Errorf("title = %q", conv.Title)
	}
}

func TestStream_ProviderFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, []provider.StreamChunk{{Err: provider.ErrRateLimit}})

	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 1 || events[0].Type != stream.TypeError {
		t.Fatalf("events = %+v, want one error", events)
	}
	if events[0].Content != provider.UserMessage(provider.ErrRateLimit) {
		t.Errorf("error content = %q", events[0].Content)
	}
	for _, m := range h.store.AllMessages() {
		if m.Role == store.RoleAssistant {
			t.Errorf("assistant message persisted after failure: %+v", m)
		}
	}
}

func TestStream_ProviderFailsMidStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, []provider.StreamChunk{
		{Content: "Reddit users "},
		{Content: "mostly say"},
		{Err: provider.ErrProviderDown},
	})

	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "What is r/technology saying about AI?"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	var types []stream.Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []stream.Type{stream.TypeContent, stream.TypeContent, stream.TypeError}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	msgs := h.store.AllMessages()
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Fatalf("stored messages = %+v, want only the user message", msgs)
	}
}

func TestStream_TouchFailureStillDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("answer"))
	h.store.FailOn = func(op string) error {
		if op == "TouchConversation" {
			return errors.New("locked")
		}
		return nil
	}

	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if terminalCount(events) != 1 {
		t.Fatalf("events = %+v, want one terminal event", events)
	}
	done := events[len(events)-1]
	if done.Type != stream.TypeDone {
		t.Fatalf("terminal = %+v, want done", done)
	}

	var assistant []store.Message
	for _, m := range h.store.AllMessages() {
		if m.Role == store.RoleAssistant {
			assistant = append(assistant, m)
		}
	}
	if len(assistant) != 1 || assistant[0].ID != done.MessageID {
		t.Errorf("assistant rows = %+v, want the message named by done", assistant)
	}
}

// recordingSink accepts limit events (all when limit < 0), then fails.
type recordingSink struct {
	limit int
	got   []stream.Event
	fails int
}

func (r *recordingSink) Send(ev stream.Event) error {
	if r.limit >= 0 && len(r.got) >= r.limit {
		r.fails++
		return errors.New("connection reset")
	}
	r.got = append(r.got, ev)
	return nil
}

func TestStreamTo_Done(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, callReddit(), text("Go", " rocks"))

	sink := &recordingSink{limit: -1}
	if err := h.svc.StreamTo(context.Background(), Request{UserID: testUser, Message: "go?"}, sink); err != nil {
		t.Fatalf("StreamTo: %v", err)
	}
	if terminalCount(sink.got) != 1 || sink.got[len(sink.got)-1].Type != stream.TypeDone {
		t.Fatalf("events = %+v, want a trailing done", sink.got)
	}
	if n := len(h.store.AllMessages()); n != 2 {
		t.Errorf("stored %d messages, want 2", n)
	}
}

func TestStreamTo_SinkFailureSavesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("one", " two", " three"))

	sink := &recordingSink{limit: 1}
	if err := h.svc.StreamTo(context.Background(), Request{UserID: testUser, Message: "hi"}, sink); err != nil {
		t.Fatalf("StreamTo: %v", err)
	}
	if len(sink.got) != 1 || sink.fails != 1 {
		t.Errorf("delivered %d events with %d failed sends, want 1 and 1", len(sink.got), sink.fails)
	}
	for _, m := range h.store.AllMessages() {
		if m.Role == store.RoleAssistant {
			t.Errorf("assistant message persisted after a failed send: %+v", m)
		}
	}
}

func TestStreamTo_RejectedBeforeSending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("ok"))

	sink := &recordingSink{limit: -1}
	err := h.svc.StreamTo(context.Background(), Request{UserID: testUser, Message: "hi", ConversationID: "missing"}, sink)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(sink.got) != 0 {
		t.Errorf("events sent for a rejected turn: %+v", sink.got)
	}
}

func TestStream_SaveFailureEndsWithError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("answer"))
	userSaved := false
	h.store.FailOn = func(op string) error {
		if op != "AddMessage" {
			return nil
		}
		if !userSaved {
			userSaved = true
			return nil
		}
		return errors.New("disk full")
	}

	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	if terminalCount(events) != 1 || events[len(events)-1].Type != stream.TypeError {
		t.Fatalf("events = %+v, want a single trailing error", events)
	}
	if strings.Contains(events[len(events)-1].Content, "disk full") {
		t.Error("internal error leaked to the client")
	}
}

func TestStream_CancelPersistsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("one", "two", "three"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.svc.Stream(ctx, Request{UserID: testUser, Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	first := <-ch
	if first.Type != stream.TypeContent {
		t.Fatalf("first event = %+v", first)
	}
	cancel()
	for ev := range ch {
		if ev.Type.Terminal() {
			t.Errorf("unexpected terminal event after cancel: %+v", ev)
		}
	}
	for _, m := range h.store.AllMessages() {
		if m.Role == store.RoleAssistant {
			t.Errorf("assistant message persisted after cancel: %+v", m)
		}
	}
}

func TestStream_FileCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxFileSize: 16}, text("ok"))

	atCeiling := BytesFile("a.png", "image/png", []byte(strings.Repeat("a", 16)))
	overCeiling := BytesFile("b.png", "image/png", []byte(strings.Repeat("b", 17)))

	ch, err := h.svc.Stream(context.Background(), Request{
		UserID:  testUser,
		Message: "look",
		Files:   []File{atCeiling, overCeiling},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	done := events[len(events)-1]
	if done.Type != stream.TypeDone {
		t.Fatalf("last event = %+v", done)
	}
	if len(done.FileAttachments) != 1 || done.FileAttachments[0].OriginalFilename != "a.png" {
		t.Fatalf("file_attachments = %+v", done.FileAttachments)
	}
	if done.FileAttachments[0].FileType != "image" || done.FileAttachments[0].FileSize != 16 {
		t.Errorf("attachment = %+v", done.FileAttachments[0])
	}

	in := lastInput(t, h.provider)
	if len(in.Parts) != 2 || in.Parts[0].Text != "look" || in.Parts[1].Type != provider.PartImage {
		t.Fatalf("current message parts = %+v", in.Parts)
	}
	if !strings.HasPrefix(in.Parts[1].ImageURL, "http://files.test/uploads/user-1/") {
		t.Errorf("image url = %q", in.Parts[1].ImageURL)
	}

	user := h.store.AllMessages()[0]
	if !user.HasAttachments {
		t.Error("user message should be flagged with attachments")
	}
}

func TestStream_LargeImageIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("ok"))

	big := File{
		Name:     "huge.jpg",
		MIMEType: "image/jpeg",
		Size:     15 << 20,
		Open: func() (io.ReadCloser, error) {
			t.Error("oversized file should not be opened")
			return nil, errors.New("unreachable")
		},
	}
	ch, err := h.svc.Stream(context.Background(), Request{UserID: testUser, Message: "see", Files: []File{big}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	done := events[len(events)-1]
	if done.Type != stream.TypeDone || len(done.FileAttachments) != 0 {
		t.Fatalf("done = %+v", done)
	}
	if in := lastInput(t, h.provider); in.IsMultimodal() || in.Content != "see" {
		t.Errorf("current message = %+v", in)
	}
	if h.store.AttachmentCount() != 0 {
		t.Error("oversized file recorded")
	}
}

func TestStream_LinksUploadedAttachments(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, text("ok"))
	ctx := context.Background()

	mine, _ := h.store.AddAttachment(ctx, store.Attachment{UserID: testUser, OriginalFilename: "doc.pdf", MIMEType: "application/pdf"})
	theirs, _ := h.store.AddAttachment(ctx, store.Attachment{UserID: "someone-else", MIMEType: "image/png"})

	ch, err := h.svc.Stream(ctx, Request{UserID: testUser, Message: "read", AttachmentIDs: []string{mine.ID, theirs.ID}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)
	done := events[len(events)-1]
	if len(done.FileAttachments) != 1 || done.FileAttachments[0].ID != mine.ID {
		t.Errorf("file_attachments = %+v", done.FileAttachments)
	}
	if in := lastInput(t, h.provider); in.IsMultimodal() {
		t.Error("a pdf must not become an image part")
	}
}

func TestStream_HistoryWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{HistoryWindow: 2}, text("ok"))
	ctx := context.Background()

	conv, _ := h.store.CreateConversation(ctx, testUser, "t")
	for _, m := range []store.Message{
		{Role: store.RoleUser, Content: "first"},
		{Role: store.RoleAssistant, Content: "second"},
		{Role: store.RoleAssistant, Content: "  "},
		{Role: store.RoleUser, Content: "third"},
	} {
		m.ConversationID = conv.ID
		m.UserID = testUser
		if _, err := h.store.AddMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	ch, err := h.svc.Stream(ctx, Request{UserID: testUser, Message: "now", ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	msgs := h.provider.Recorded()[0].Messages
	var got []string
	for _, m := range msgs {
		if m.Role != provider.MessageRoleSystem {
			got = append(got, string(m.Role)+":"+m.Content)
		}
	}
	want := []string{"user:third", "user:now"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("model input = %v, want %v", got, want)
	}
	if msgs[0].Role != provider.MessageRoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Error("system prompt missing")
	}
}

func TestStream_RejectsBeforeStreaming(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	other, _ := h.store.CreateConversation(ctx, "someone-else", "theirs")

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty message", Request{UserID: testUser, Message: "   "}, ErrEmptyMessage},
		{"no user", Request{Message: "hi"}, ErrNoUser},
		{"foreign conversation", Request{UserID: testUser, Message: "hi", ConversationID: other.ID}, store.ErrNotFound},
		{"unknown conversation", Request{UserID: testUser, Message: "hi", ConversationID: "nope"}, ErrConversationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := h.svc.Stream(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, callReddit(), text("## Summary"))

	reply, err := h.svc.Complete(context.Background(), Request{UserID: testUser, Message: "reddit on go"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply.ConversationID == "" || reply.Message.ID == "" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Message.Content != "## Summary" || reply.Message.ToolUsed != tools.SearchRedditName {
		t.Errorf("message = %+v", reply.Message)
	}
	if len(reply.Message.Sources) != 1 {
		t.Errorf("sources = %+v", reply.Message.Sources)
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 60)
	tests := []struct {
		in, want string
	}{
		{"short", "short"},
		{strings.Repeat("y", 50), strings.Repeat("y", 50)},
		{long, strings.Repeat("x", 50) + "..."},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := Title(tt.in, 50); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	if got := UserMessage(context.DeadlineExceeded); !strings.Contains(got, "too long") {
		t.Errorf("deadline: %q", got)
	}
	if got := UserMessage(agent.ErrLoopDetected); !strings.Contains(got, "rephrasing") {
		t.Errorf("loop: %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "An error occurred" {
		t.Errorf("generic: %q", got)
	}
}
