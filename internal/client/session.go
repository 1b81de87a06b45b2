package client

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/stream"
)

// Message is one chat bubble.
type Message struct {
	ID          string
	Role        string // "user" or "assistant"
	Content     string
	Sources     []source.Source
	ToolUsed    string
	Attachments []stream.Attachment
	CreatedAt   time.Time

	Pending  bool   // assistant reply still streaming
	IsError  bool   // reply failed; Content keeps what was streamed
	Error    string // failure text shown next to the bubble
	CanRetry bool
}

// State is the session snapshot handed to observers.
type State struct {
	ConversationID string
	Messages       []Message
	Streaming      bool
	Loading        bool   // waiting for the first content delta
	CurrentTool    string // tool running right now, if any
	RetryCount     int
	LastError      *Error
}

func (s State) clone() State {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Observer receives a snapshot after every state change.
type Observer interface {
	OnUpdate(State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

// OnUpdate implements Observer.
func (f ObserverFunc) OnUpdate(s State) { f(s) }

// Session drives one conversation: it sends turns, folds stream events
// into its state and implements the retry policy. Send and Retry block
// until the turn ends; only one turn runs at a time.
type Session struct {
	client   *Client
	observer Observer

	mu        sync.Mutex
	state     State
	seq       int
	lastSent  string // content of the last distinct message
	failed    string // content to resend on Retry
	hasFailed bool
}

// NewSession starts an empty session. observer may be nil.
func NewSession(c *Client, observer Observer) *Session {
	if observer == nil {
		observer = ObserverFunc(func(State) {})
	}
	return &Session{client: c, observer: observer}
}

// Resume continues an existing conversation.
func (s *Session) Resume(conversationID string) {
	s.update(func(st *State) { st.ConversationID = conversationID })
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// update applies fn under the lock and notifies the observer outside it.
func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	s.mu.Unlock()
	s.observer.OnUpdate(snap)
}

func (s *Session) localID() string {
	s.seq++
	return fmt.Sprintf("local-%d", s.seq)
}

// Send posts a new user message and streams the reply. The returned error
// is classified with Classify; the same failure is also reflected in the
// state.
func (s *Session) Send(ctx context.Context, content string, files []File) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state.Streaming {
		s.mu.Unlock()
		return ErrBusy
	}
	if content != s.lastSent {
		s.lastSent = content
		s.state.RetryCount = 0
	}
	s.hasFailed = false
	user := Message{ID: s.localID(), Role: "user", Content: content, CreatedAt: time.Now()}
	for _, f := range files {
		user.Attachments = append(user.Attachments, stream.Attachment{
			OriginalFilename: f.Name,
			MimeType:         f.MIMEType,
			FileSize:         int64(len(f.Data)),
		})
	}
	s.state.Messages = append(s.state.Messages, user)
	s.state.Streaming = true
	s.mu.Unlock()

	return s.run(ctx, content, files)
}

// Retry resends the last failed message without adding a second user
// bubble. Error bubbles are dropped first. Files are not resent.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state.Streaming:
		s.mu.Unlock()
		return ErrBusy
	case !s.hasFailed:
		s.mu.Unlock()
		return ErrNothingToRetry
	case s.state.RetryCount >= s.client.opts.MaxRetries:
		s.mu.Unlock()
		return ErrRetryLimit
	}
	s.state.RetryCount++
	s.hasFailed = false
	content := s.failed
	s.state.Messages = slices.DeleteFunc(s.state.Messages, func(m Message) bool { return m.IsError })
	s.state.Streaming = true
	s.mu.Unlock()

	return s.run(ctx, content, nil)
}

// run streams one reply into a pending assistant message. The caller has
// already set Streaming.
func (s *Session) run(ctx context.Context, content string, files []File) error {
	var pendingID, convID string
	s.update(func(st *State) {
		pendingID = s.localID()
		convID = st.ConversationID
		st.Messages = append(st.Messages, Message{
			ID: pendingID, Role: "assistant", Pending: true, CreatedAt: time.Now(),
		})
		st.Loading = true
		st.CurrentTool = ""
		st.LastError = nil
	})

	es, err := s.client.Open(ctx, Request{Message: content, ConversationID: convID, Files: files})
	if err != nil {
		return s.fail(pendingID, content, err)
	}
	defer es.Close()

	opts := s.client.opts
	buf := NewBuffer(opts.FlushThreshold, opts.FlushInterval)
	tick := time.NewTicker(opts.FlushInterval)
	defer tick.Stop()

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		delta := buf.Take()
		s.update(func(st *State) {
			if m := findMessage(st, pendingID); m != nil {
				m.Content += delta
			}
		})
	}

	for {
		select {
		case now := <-tick.C:
			if buf.Due(now) {
				flush()
			}

		case ev, ok := <-es.Events():
			if !ok {
				flush()
				return s.fail(pendingID, content, es.Err())
			}
			switch ev.Type {
			case stream.TypeContent:
				if s.State().Loading {
					s.update(func(st *State) { st.Loading = false })
				}
				if buf.Add(ev.Delta, time.Now()) {
					flush()
				}
			case stream.TypeToolStart:
				s.update(func(st *State) { st.CurrentTool = ev.Tool })
			case stream.TypeToolEnd:
				s.update(func(st *State) { st.CurrentTool = "" })
			case stream.TypeDone:
				flush()
				s.finish(pendingID, ev)
				return nil
			case stream.TypeError:
				flush()
				return s.fail(pendingID, content, &ServerError{Message: ev.Content})
			}
		}
	}
}

func findMessage(st *State, id string) *Message {
	for i := range st.Messages {
		if st.Messages[i].ID == id {
			return &st.Messages[i]
		}
	}
	return nil
}

// finish swaps the pending message for the persisted one.
func (s *Session) finish(pendingID string, ev stream.Event) {
	s.update(func(st *State) {
		m := findMessage(st, pendingID)
		if m == nil {
			return
		}
		final := Message{
			ID:          ev.MessageID,
			Role:        "assistant",
			Content:     ev.Content,
			Sources:     ev.Sources,
			Attachments: ev.FileAttachments,
			CreatedAt:   time.Now(),
		}
		if final.ID == "" {
			final.ID = pendingID
		}
		if final.Content == "" {
			final.Content = m.Content
		}
		if ev.ToolUsed != nil {
			final.ToolUsed = *ev.ToolUsed
		}
		*m = final

		if ev.ConversationID != "" {
			st.ConversationID = ev.ConversationID
		}
		st.Streaming, st.Loading = false, false
		st.CurrentTool = ""
	})
}

// fail ends the pending message with err. A cancelled turn keeps what was
// streamed as a plain message and is not recorded as a failure.
func (s *Session) fail(pendingID, content string, err error) error {
	ce := Classify(err)
	s.mu.Lock()
	if ce.Retryable {
		s.failed, s.hasFailed = content, true
	}
	s.mu.Unlock()

	s.update(func(st *State) {
		st.Streaming, st.Loading = false, false
		st.CurrentTool = ""

		i := slices.IndexFunc(st.Messages, func(m Message) bool { return m.ID == pendingID })
		if i < 0 {
			return
		}
		m := &st.Messages[i]
		m.Pending = false

		if ce.Kind == KindCancelled {
			if m.Content == "" {
				st.Messages = slices.Delete(st.Messages, i, i+1)
			}
			return
		}
		m.IsError = true
		m.Error = ce.Message
		m.CanRetry = ce.Retryable && st.RetryCount < s.client.opts.MaxRetries
		st.LastError = ce
	})
	return ce
}
