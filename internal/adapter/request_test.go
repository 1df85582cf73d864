package adapter

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openbridge/claude-relay/internal/anthropic"
	"github.com/openbridge/claude-relay/internal/config"
)

func testMapping() config.ModelMapping {
	return config.ModelMapping{SourceModelID: "claude-sonnet-4", TargetModelID: "gpt-4o", MaxTokens: 4096}
}

func testRegistry() *config.ModelRegistry {
	reg := config.NewModelRegistry()
	reg.Register(testMapping())
	return reg
}

func textRequest(text string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: mustJSON(text)},
		},
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestBuildChatRequestSystemFirst(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := textRequest("hello world")
	req.System = mustJSON("You are a helpful assistant")

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.Model != "gpt-4o" {
		t.Errorf("model = %q", out.Model)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(out.Messages))
	}
	if out.Messages[0].Role != openai.ChatMessageRoleSystem || out.Messages[0].Content != "You are a helpful assistant" {
		t.Errorf("first message = %+v, want system", out.Messages[0])
	}
	if out.Messages[1].Role != openai.ChatMessageRoleUser || out.Messages[1].Content != "hello world" {
		t.Errorf("second message = %+v", out.Messages[1])
	}
	if out.StreamOptions != nil {
		t.Error("stream options set on non-streaming request")
	}
}

func TestBuildChatRequestStreamIncludesUsage(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	out, err := a.BuildChatRequest(textRequest("hi"), testMapping(), true)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if !out.Stream || out.StreamOptions == nil || !out.StreamOptions.IncludeUsage {
		t.Errorf("streaming request missing usage option: %+v", out.StreamOptions)
	}
}

func TestExplicitZeroSamplingSurvivesEncoding(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := textRequest("hi")
	zero := float32(0)
	req.Temperature = &zero
	req.TopP = &zero

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.Temperature == 0 || out.TopP == 0 {
		t.Fatalf("temperature = %v, top_p = %v; explicit zero must not vanish", out.Temperature, out.TopP)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"temperature"`, `"top_p"`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("serialized request missing %s: %s", field, raw)
		}
	}

	// An unset sampler stays unset.
	out, err = a.BuildChatRequest(textRequest("hi"), testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.Temperature != 0 || out.TopP != 0 {
		t.Errorf("absent sampling populated: temperature = %v, top_p = %v", out.Temperature, out.TopP)
	}
}

func TestClampMaxTokens(t *testing.T) {
	tests := []struct {
		name       string
		requested  int
		mappingMax int
		want       int
	}{
		{"requested below all ceilings", 500, 4096, 500},
		{"mapping ceiling applies", 100000, 4096, 4096},
		{"hard ceiling applies", 100000, 100000, HardMaxTokensCeiling},
		{"no mapping ceiling", 500, 0, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampMaxTokens(tt.requested, tt.mappingMax); got != tt.want {
				t.Errorf("clampMaxTokens(%d, %d) = %d, want %d", tt.requested, tt.mappingMax, got, tt.want)
			}
		})
	}
}

func TestToolsWithoutSchemaExcluded(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := textRequest("hi")
	req.Tools = []anthropic.Tool{
		{Name: "valid", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "schemaless"},
	}

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Function.Name != "valid" {
		t.Errorf("tools = %+v, want only the schema-carrying one", out.Tools)
	}
}

func TestNoValidToolsOmitsField(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := textRequest("hi")
	req.Tools = []anthropic.Tool{{Name: "schemaless"}}

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.Tools != nil {
		t.Errorf("tools = %+v, want unset", out.Tools)
	}
}

func TestFromToolChoice(t *testing.T) {
	if got := fromToolChoice(json.RawMessage(`{"type":"auto"}`)); got != "auto" {
		t.Errorf("auto = %v", got)
	}
	if got := fromToolChoice(json.RawMessage(`{"type":"any"}`)); got != "required" {
		t.Errorf("any = %v", got)
	}
	got := fromToolChoice(json.RawMessage(`{"type":"tool","name":"get_weather"}`))
	choice, ok := got.(openai.ToolChoice)
	if !ok || choice.Function.Name != "get_weather" {
		t.Errorf("tool = %v", got)
	}
	if got := fromToolChoice(nil); got != nil {
		t.Errorf("absent = %v", got)
	}
}

func TestToolResultBecomesToolRoleMessage(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: mustJSON([]map[string]any{
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "72 degrees"},
			})},
		},
	}

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(out.Messages))
	}
	msg := out.Messages[0]
	if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != "toolu_1" || msg.Content != "72 degrees" {
		t.Errorf("tool message = %+v", msg)
	}
}

func TestThinkingBlockBecomesAnnotation(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "assistant", Content: mustJSON([]map[string]any{
				{"type": "thinking", "thinking": "the user wants weather"},
				{"type": "text", "text": "Checking now."},
			})},
		},
	}

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	want := "[Thinking: the user wants weather]\nChecking now."
	if out.Messages[0].Content != want {
		t.Errorf("content = %q, want %q", out.Messages[0].Content, want)
	}
}

func TestBase64ImageBecomesDataURI(t *testing.T) {
	a := New(nil, testRegistry(), nil)
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: mustJSON([]map[string]any{
				{"type": "text", "text": "what is this"},
				{"type": "image", "source": map[string]string{"type": "base64", "media_type": "image/png", "data": "aGk="}},
			})},
		},
	}

	out, err := a.BuildChatRequest(req, testMapping(), false)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	parts := out.Messages[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[1].ImageURL.URL != "data:image/png;base64,aGk=" {
		t.Errorf("image url = %q", parts[1].ImageURL.URL)
	}
}
