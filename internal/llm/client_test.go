package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestMockClient(t *testing.T) {
	m := &MockClient{ProviderName: "mock"}
	resp, err := m.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, "mock", m.Name())

	var _ Client = m
	var _ Client = (*GeminiClient)(nil)
}

func TestToContents(t *testing.T) {
	contents := toContents([]Message{
		{Role: RoleAssistant, Content: "Thanks for calling."},
		{Role: RoleUser, Content: "when do you open"},
		{Role: RoleAssistant, Content: "at nine"},
		{Role: RoleUser, Content: "  "},
	})
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "at nine", contents[1].Parts[0].Text)
}

func TestGenerateConfig(t *testing.T) {
	temp := 0.4
	cfg := generateConfig(CompletionRequest{System: "be brief", MaxTokens: 150, Temperature: &temp})
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(150), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.4, *cfg.Temperature, 1e-6)

	cfg = generateConfig(CompletionRequest{})
	assert.Nil(t, cfg.SystemInstruction)
	assert.Nil(t, cfg.Temperature)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "", "")
	assert.Error(t, err)
}
