package provider

import (
	"encoding/json"
	"testing"
)

func TestLLMMessageOmitempty(t *testing.T) {
	t.Parallel()

	msg := LLMMessage{Role: MessageRoleSystem, Content: "you are helpful"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}

	for _, key := range []string{"name", "tool_id", "parts", "tool_calls", "is_error"} {
		if _, ok := raw[key]; ok {
			t.Errorf("expected %s to be omitted when empty", key)
		}
	}
}

func TestIsMultimodal(t *testing.T) {
	t.Parallel()

	plain := LLMMessage{Role: MessageRoleUser, Content: "hi"}
	if plain.IsMultimodal() {
		t.Error("plain text message reported as multimodal")
	}

	mixed := LLMMessage{
		Role:  MessageRoleUser,
		Parts: []ContentPart{TextPart("what is this?"), ImagePart("https://cdn.example/cat.png")},
	}
	if !mixed.IsMultimodal() {
		t.Error("message with parts should be multimodal")
	}
	if mixed.Parts[1].Type != PartImage || mixed.Parts[1].ImageURL != "https://cdn.example/cat.png" {
		t.Errorf("image part = %+v", mixed.Parts[1])
	}
}

func TestStreamChunkErrNotSerialized(t *testing.T) {
	t.Parallel()

	chunk := StreamChunk{Content: "hello", Err: ErrProviderDown}

	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if _, ok := raw["Err"]; ok {
		t.Error("Err must not be serialized")
	}
}
