package session

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestGreetingOverrideWins(t *testing.T) {
	cfg := AIConfig{Greeting: "  Welcome   to Acme!  ", AssistantName: "Ava", BusinessDescription: "Acme Plumbing"}
	assert.Equal(t, "Welcome to Acme!", cfg.ResolveGreeting(0))
}

func TestGreetingDerived(t *testing.T) {
	tests := []struct {
		name string
		cfg  AIConfig
		want string
	}{
		{
			name: "name and business",
			cfg:  AIConfig{AssistantName: "Ava", BusinessDescription: "Acme Plumbing. We fix pipes across the county."},
			want: "Thanks for calling Acme Plumbing. This is Ava, how can I help you today?",
		},
		{
			name: "business only",
			cfg:  AIConfig{BusinessDescription: "Acme Plumbing"},
			want: "Thanks for calling Acme Plumbing. How can I help you today?",
		},
		{
			name: "name only",
			cfg:  AIConfig{AssistantName: "Ava"},
			want: "Hi, this is Ava. How can I help you today?",
		},
		{
			name: "nothing configured",
			cfg:  AIConfig{},
			want: "Hello, thanks for calling. How can I help you today?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolveGreeting(DefaultGreetingMaxChars))
		})
	}
}

func TestNormalizeGreetingTwoSentences(t *testing.T) {
	got := NormalizeGreeting("Hi there. Welcome to Acme. We have many services. Ask away!", 220)
	assert.Equal(t, "Hi there. Welcome to Acme.", got)
}

func TestNormalizeGreetingCharacterCeiling(t *testing.T) {
	long := "Welcome to " + strings.Repeat("the very best plumbing company ", 12) + "in town"
	got := NormalizeGreeting(long, 220)
	assert.LessOrEqual(t, len(got), 220)
	assert.True(t, strings.HasSuffix(got, "."))
	assert.False(t, strings.HasSuffix(got, " ."))
	assert.True(t, strings.HasPrefix(got, "Welcome to the very best"))
}

func TestNormalizeGreetingCountsRunes(t *testing.T) {
	got := NormalizeGreeting(strings.Repeat("é", 150), 220)
	assert.Equal(t, strings.Repeat("é", 150), got)

	got = NormalizeGreeting(strings.Repeat("欢迎", 150), 220)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 220, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "."))
}

func TestNormalizeGreetingShortText(t *testing.T) {
	assert.Equal(t, "Hello", NormalizeGreeting("Hello", 220))
	assert.Equal(t, "", NormalizeGreeting("   ", 220))
}

func TestNormalizeGreetingKeepsDecimals(t *testing.T) {
	assert.Equal(t, "Version 2.5 is live. Call us.", NormalizeGreeting("Version 2.5 is live. Call us. Bye.", 220))
}
