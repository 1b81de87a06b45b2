// Package stream defines the chat stream events and their server-sent
// events wire encoding.
package stream

import (
	"encoding/json"
	"time"

	"github.com/flemzord/reddichat/internal/source"
)

// Type discriminates stream events.
type Type string

// Event types. A stream carries any number of content and tool events
// followed by exactly one done or error.
const (
	TypeContent   Type = "content"
	TypeToolStart Type = "tool_start"
	TypeToolEnd   Type = "tool_end"
	TypeDone      Type = "done"
	TypeError     Type = "error"
)

// Terminal reports whether t ends a stream.
func (t Type) Terminal() bool { return t == TypeDone || t == TypeError }

// Event is one stream event. Which fields are meaningful depends on Type:
//
//	content     Delta
//	tool_start  Tool
//	tool_end    Tool, Result
//	done        ConversationID, MessageID, Content, Sources, ToolUsed, FileAttachments
//	error       Content
type Event struct {
	Type            Type            `json:"type"`
	Delta           string          `json:"delta,omitempty"`
	Tool            string          `json:"tool,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	MessageID       string          `json:"message_id,omitempty"`
	Content         string          `json:"content,omitempty"`
	Sources         []source.Source `json:"sources,omitempty"`
	ToolUsed        *string         `json:"tool_used,omitempty"`
	FileAttachments []Attachment    `json:"file_attachments,omitempty"`
}

// Attachment is the attachment metadata echoed in done events.
type Attachment struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	URL              string    `json:"s3_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// ContentDelta builds a content event.
func ContentDelta(delta string) Event { return Event{Type: TypeContent, Delta: delta} }

// ToolStarted builds a tool_start event.
func ToolStarted(tool string) Event { return Event{Type: TypeToolStart, Tool: tool} }

// ToolEnded builds a tool_end event. A result that is not valid JSON is
// carried as a JSON string.
func ToolEnded(tool, result string) Event {
	raw := json.RawMessage(result)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(result)
	}
	return Event{Type: TypeToolEnd, Tool: tool, Result: raw}
}

// Failed builds an error event.
func Failed(message string) Event { return Event{Type: TypeError, Content: message} }

type contentJSON struct {
	Type  Type   `json:"type"`
	Delta string `json:"delta"`
}

type toolJSON struct {
	Type   Type            `json:"type"`
	Tool   string          `json:"tool"`
	Result json.RawMessage `json:"result,omitempty"`
}

type doneJSON struct {
	Type            Type            `json:"type"`
	ConversationID  string          `json:"conversation_id"`
	MessageID       string          `json:"message_id"`
	Content         string          `json:"content"`
	Sources         []source.Source `json:"sources"`
	ToolUsed        *string         `json:"tool_used"`
	FileAttachments []Attachment    `json:"file_attachments"`
}

type errorJSON struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

// MarshalJSON emits exactly the fields of the event's variant. Done events
// always carry sources and file_attachments arrays and a tool_used that
// may be null.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeContent:
		return json.Marshal(contentJSON{e.Type, e.Delta})
	case TypeToolStart:
		return json.Marshal(toolJSON{Type: e.Type, Tool: e.Tool})
	case TypeToolEnd:
		return json.Marshal(toolJSON{e.Type, e.Tool, e.Result})
	case TypeDone:
		d := doneJSON{
			Type:            e.Type,
			ConversationID:  e.ConversationID,
			MessageID:       e.MessageID,
			Content:         e.Content,
			Sources:         e.Sources,
			ToolUsed:        e.ToolUsed,
			FileAttachments: e.FileAttachments,
		}
		if d.Sources == nil {
			d.Sources = []source.Source{}
		}
		if d.FileAttachments == nil {
			d.FileAttachments = []Attachment{}
		}
		return json.Marshal(d)
	default:
		return json.Marshal(errorJSON{e.Type, e.Content})
	}
}
