package gemini

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/tool"
	llm "github.com/aiadmin/aiadmin/internal/infrastructure/llm"
)

func testProvider() *Provider {
	logger, _ := zap.NewDevelopment()
	return New(llm.ProviderConfig{APIKey: "test-key"}, logger)
}

func TestParseAPIResponseText(t *testing.T) {
	p := testProvider()

	body := []byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "Здравствуйте! Чем могу помочь?"}]},
			"finishReason": "STOP"
		}]
	}`)

	resp, err := p.parseAPIResponse(body)
	if err != nil {
		t.Fatalf("parseAPIResponse() error = %v", err)
	}
	if resp.Text != "Здравствуйте! Чем могу помочь?" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.ToolCall != nil {
		t.Error("unexpected tool call")
	}
	if resp.FinishReason != "STOP" {
		t.Errorf("FinishReason = %q, want STOP", resp.FinishReason)
	}
}

func TestParseAPIResponseToolCall(t *testing.T) {
	p := testProvider()

	body := []byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [{
				"functionCall": {"name": "get_services", "args": {"category": "hair"}}
			}]},
			"finishReason": "STOP"
		}]
	}`)

	resp, err := p.parseAPIResponse(body)
	if err != nil {
		t.Fatalf("parseAPIResponse() error = %v", err)
	}
	if resp.ToolCall == nil {
		t.Fatal("ToolCall is nil")
	}
	if resp.ToolCall.Name != "get_services" {
		t.Errorf("ToolCall.Name = %q", resp.ToolCall.Name)
	}
	if resp.ToolCall.Args["category"] != "hair" {
		t.Errorf("ToolCall.Args = %v", resp.ToolCall.Args)
	}
	if resp.Text != "" {
		t.Errorf("Text = %q, want empty on tool-call branch", resp.Text)
	}
}

func TestParseAPIResponseEmpty(t *testing.T) {
	p := testProvider()

	tests := []struct {
		name string
		body string
	}{
		{"no candidates", `{"candidates": []}`},
		{"empty parts", `{"candidates": [{"content": {"parts": []}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.parseAPIResponse([]byte(tt.body))
			if !errors.Is(err, llm.ErrEmptyResponse) {
				t.Errorf("error = %v, want ErrEmptyResponse", err)
			}
		})
	}
}

func TestParseAPIResponseMalformed(t *testing.T) {
	p := testProvider()

	if _, err := p.parseAPIResponse([]byte(`not-json`)); err == nil {
		t.Error("parseAPIResponse() accepted malformed body")
	}
}

func TestBuildAPIRequestClampsTemperature(t *testing.T) {
	p := testProvider()

	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0.7, 0.7},
		{5, 2},
	}

	for _, tt := range tests {
		apiReq := p.buildAPIRequest(&llm.Request{Temperature: tt.in})
		if got := apiReq.GenerationConfig.Temperature; got != tt.want {
			t.Errorf("Temperature %v clamped to %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildAPIRequestShape(t *testing.T) {
	p := testProvider()

	req := &llm.Request{
		SystemInstruction: "Ты — администратор салона.",
		Messages: []llm.Message{
			{Role: entity.RoleUser, Text: "Привет"},
			{Role: entity.RoleModel, Text: "Здравствуйте!"},
			{Role: entity.RoleUser, Text: "Какие услуги есть?"},
		},
		Tools: []tool.Declaration{
			{Name: "get_services", Description: "List services", Parameters: nil},
		},
	}

	apiReq := p.buildAPIRequest(req)

	if apiReq.SystemInstruction == nil || apiReq.SystemInstruction.Parts[0].Text != req.SystemInstruction {
		t.Error("system instruction not mapped")
	}
	if len(apiReq.Contents) != 3 {
		t.Fatalf("len(Contents) = %d, want 3", len(apiReq.Contents))
	}
	if apiReq.Contents[0].Role != "user" || apiReq.Contents[1].Role != "model" {
		t.Errorf("roles = %s, %s", apiReq.Contents[0].Role, apiReq.Contents[1].Role)
	}
	if len(apiReq.Tools) != 1 || len(apiReq.Tools[0].FunctionDeclarations) != 1 {
		t.Fatal("tool declarations not mapped")
	}
	// nil schema 必须补全为合法的 object schema
	params := apiReq.Tools[0].FunctionDeclarations[0].Parameters
	if params["type"] != "object" {
		t.Errorf("declaration parameters = %v", params)
	}
}
