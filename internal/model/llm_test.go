package model

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"llmqa-console/internal/config"
)

func TestNewChatModelProviders(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.DevServerConfig
		wantErr string
	}{
		{name: "default echo", cfg: config.DevServerConfig{}},
		{name: "echo", cfg: config.DevServerConfig{Provider: "ECHO"}},
		{name: "openai", cfg: config.DevServerConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}},
		{name: "qwen without key", cfg: config.DevServerConfig{Provider: "qwen"}, wantErr: "api_key"},
		{name: "ark without key", cfg: config.DevServerConfig{Provider: "ark"}, wantErr: "api_key"},
		{name: "openai without key", cfg: config.DevServerConfig{Provider: "openai"}, wantErr: "api_key"},
		{name: "unknown", cfg: config.DevServerConfig{Provider: "gemini"}, wantErr: "unsupported model provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewChatModel(ctx, tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || m == nil {
				t.Fatalf("NewChatModel: %v", err)
			}
		})
	}
}

func TestEchoModel(t *testing.T) {
	m := NewEchoModel()
	ctx := context.Background()

	out, err := m.Generate(ctx, []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("旧问题"),
		schema.AssistantMessage("旧回答", nil),
		schema.UserMessage(" 新问题 "),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Role != schema.Assistant || !strings.HasSuffix(out.Content, "新问题") {
		t.Fatalf("out = %+v", out)
	}

	if _, err := m.Generate(ctx, []*schema.Message{schema.SystemMessage("sys")}); err == nil {
		t.Fatal("want error without user message")
	}

	sr, err := m.Stream(ctx, []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer sr.Close()
	chunk, err := sr.Recv()
	if err != nil || !strings.HasSuffix(chunk.Content, "hi") {
		t.Fatalf("chunk = %+v, err = %v", chunk, err)
	}
	if _, err := sr.Recv(); err != io.EOF {
		t.Fatalf("second Recv err = %v, want EOF", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Generate(canceled, []*schema.Message{schema.UserMessage("hi")}); err == nil {
		t.Fatal("want error on canceled context")
	}
}

func TestConvertMessages(t *testing.T) {
	got := convertMessages([]*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("q"),
		schema.AssistantMessage("", nil),
		schema.AssistantMessage("a", nil),
	})
	want := []string{openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, role := range want {
		if got[i].Role != role {
			t.Fatalf("role[%d] = %s, want %s", i, got[i].Role, role)
		}
	}
}
