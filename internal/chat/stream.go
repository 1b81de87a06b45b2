package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/stream"
	"github.com/flemzord/reddichat/internal/telemetry"
)

// Stream outcomes reported to metrics.
const (
	outcomeDone      = "done"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Sink receives the events of a turn in order.
type Sink interface {
	Send(ev stream.Event) error
}

// liveTurn is a prepared turn whose agent is running.
type liveTurn struct {
	span   trace.Span
	turn   *turn
	events <-chan agent.StreamEvent
}

// begin prepares the turn and starts the agent. On error nothing was
// started.
func (s *Service) begin(ctx context.Context, req Request) (context.Context, *liveTurn, error) {
	ctx, span := s.startTurn(ctx)
	t, err := s.prepare(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("chat.conversation_id", t.conversation.ID),
		attribute.Int("chat.attachments", len(t.attachments)),
	)

	events, err := s.loop.RunStream(ctx, s.agentRequest(t))
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return nil, nil, fmt.Errorf("chat: start agent: %w", err)
	}
	s.metrics.StreamStarted()
	return ctx, &liveTurn{span: span, turn: t, events: events}, nil
}

// Stream prepares the turn and returns its events. An error return
// means nothing was streamed. Otherwise the channel carries content and
// tool events followed by exactly one done or error event, then closes.
// The channel is unbuffered. If ctx is cancelled the channel closes
// without a terminal event and no assistant message is saved.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	ctx, lt, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		s.relay(ctx, lt, func(ev stream.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// StreamTo runs the turn, writing its events to sink, and returns when
// the turn is over. An error return means nothing was sent. Events are
// sent from the calling goroutine; the first failed Send cancels the
// turn, so a reply the sink did not accept in full is never saved and no
// terminal event follows.
func (s *Service) StreamTo(ctx context.Context, req Request, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, lt, err := s.begin(ctx, req)
	if err != nil {
		return err
	}
	s.relay(ctx, lt, func(ev stream.Event) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := sink.Send(ev); err != nil {
			s.logger.Debug("stream consumer went away",
				"conversation_id", lt.turn.conversation.ID,
				"error", err,
			)
			cancel()
			return false
		}
		return true
	})
	// Let the agent goroutine observe the cancellation and exit.
	for range lt.events {
	}
	return nil
}

// relay turns agent events into stream events, hands them to emit and
// finalizes the turn. emit reports false once the consumer is gone.
func (s *Service) relay(ctx context.Context, lt *liveTurn, emit func(stream.Event) bool) {
	span, t, events := lt.span, lt.turn, lt.events
	defer span.End()

	start := time.Now()
	outcome := outcomeCancelled
	defer func() { s.metrics.StreamFinished(outcome, time.Since(start)) }()

	acc := accumulator{logger: s.logger}
	for ev := range events {
		switch ev.Type {
		case agent.StreamEventText:
			acc.content.WriteString(ev.Content)
			if !emit(stream.ContentDelta(ev.Content)) {
				return
			}

		case agent.StreamEventToolStart:
			acc.toolUsed = ev.ToolCall.Name
			if !emit(stream.ToolStarted(ev.ToolCall.Name)) {
				return
			}

		case agent.StreamEventToolEnd:
			acc.toolEnded(*ev.ToolCall)
			if !emit(stream.ToolEnded(ev.ToolCall.Name, ev.ToolCall.Output.Content)) {
				return
			}

		case agent.StreamEventUsage:
			s.logger.Debug("token usage",
				"conversation_id", t.conversation.ID,
				"prompt_tokens", ev.Usage.PromptTokens,
				"completion_tokens", ev.Usage.CompletionTokens,
			)

		case agent.StreamEventError:
			telemetry.RecordError(span, ev.Err)
			s.logger.Warn("chat turn failed",
				"conversation_id", t.conversation.ID,
				"error", ev.Err,
			)
			outcome = outcomeError
			emit(stream.Failed(UserMessage(ev.Err)))
			return

		case agent.StreamEventDone:
			if ctx.Err() != nil {
				return
			}
			msg, err := s.finish(ctx, t, acc.content.String(), acc.toolUsed, acc.sources())
			if err != nil {
				telemetry.RecordError(span, err)
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("saving assistant message failed",
					"conversation_id", t.conversation.ID,
					"error", err,
				)
				outcome = outcomeError
				emit(stream.Failed("Failed to save the response. Please try again."))
				return
			}
			outcome = outcomeDone
			emit(doneEvent(t, msg))
			return
		}
	}
}

// Complete runs a turn without streaming and returns the saved reply.
func (s *Service) Complete(ctx context.Context, req Request) (Reply, error) {
	ctx, span := s.startTurn(ctx)
	defer span.End()

	t, err := s.prepare(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return Reply{}, err
	}

	resp, err := s.loop.Run(ctx, s.agentRequest(t))
	if err != nil {
		telemetry.RecordError(span, err)
		return Reply{ConversationID: t.conversation.ID}, fmt.Errorf("chat: agent: %w", err)
	}

	acc := accumulator{toolUsed: resp.LastTool(), logger: s.logger}
	for _, rec := range resp.ToolCalls {
		acc.toolEnded(rec)
	}

	msg, err := s.finish(ctx, t, resp.Content, acc.toolUsed, acc.sources())
	if err != nil {
		telemetry.RecordError(span, err)
		return Reply{ConversationID: t.conversation.ID}, err
	}
	return Reply{
		ConversationID: t.conversation.ID,
		Message:        msg,
		Attachments:    t.attachments,
	}, nil
}

func (s *Service) startTurn(ctx context.Context) (context.Context, trace.Span) {
	return telemetry.Tracer("chat").Start(ctx, "chat.turn")
}

func (s *Service) agentRequest(t *turn) agent.Request {
	return agent.Request{
		Messages:     t.input,
		SystemPrompt: s.config.SystemPrompt,
		Tools:        s.tools,
	}
}

// finish saves the assistant message and bumps the conversation. Once the
// message is saved the turn counts as done, so a failed bump is only logged.
func (s *Service) finish(ctx context.Context, t *turn, content, toolUsed string, sources []source.Source) (store.Message, error) {
	msg, err := s.store.AddMessage(ctx, store.Message{
		ConversationID: t.conversation.ID,
		UserID:         t.userID,
		Role:           store.RoleAssistant,
		Content:        content,
		Sources:        sources,
		ToolUsed:       toolUsed,
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("chat: save assistant message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, t.conversation.ID); err != nil {
		s.logger.Warn("touching conversation failed",
			"conversation_id", t.conversation.ID,
			"error", err,
		)
	}
	return msg, nil
}

func doneEvent(t *turn, msg store.Message) stream.Event {
	ev := stream.Event{
		Type:            stream.TypeDone,
		ConversationID:  t.conversation.ID,
		MessageID:       msg.ID,
		Content:         msg.Content,
		Sources:         msg.Sources,
		FileAttachments: StreamAttachments(t.attachments),
	}
	if msg.ToolUsed != "" {
		name := msg.ToolUsed
		ev.ToolUsed = &name
	}
	return ev
}

// StreamAttachments converts stored attachments to their wire form.
func StreamAttachments(in []store.Attachment) []stream.Attachment {
	out := make([]stream.Attachment, len(in))
	for i, a := range in {
		out[i] = stream.Attachment{
			ID:               a.ID,
			Filename:         a.Filename,
			OriginalFilename: a.OriginalFilename,
			FileType:         a.FileType,
			FileSize:         a.FileSize,
			MimeType:         a.MIMEType,
			URL:              a.URL,
			CreatedAt:        a.CreatedAt,
		}
	}
	return out
}

// accumulator collects the parts of the answer that are saved with it.
type accumulator struct {
	content  strings.Builder
	toolUsed string
	results  []source.ToolResult
	logger   *slog.Logger
}

func (a *accumulator) toolEnded(rec agent.ToolCallRecord) {
	if rec.Failed() || rec.Output.Data == nil {
		return
	}
	if !source.Known(rec.Name) {
		a.logger.Debug("tool result carries no sources", "tool", rec.Name)
		return
	}
	a.results = append(a.results, source.ToolResult{Name: rec.Name, Data: rec.Output.Data})
}

func (a *accumulator) sources() []source.Source {
	return source.Extract(a.results)
}
