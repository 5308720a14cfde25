package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentplexus/omnivoice-bridge/internal/session"
)

func TestDetectIntent(t *testing.T) {
	intents := []session.Intent{
		{ID: "billing", Keywords: []string{"invoice", "Bill"}, Enabled: true},
		{ID: "cancel", Keywords: []string{"cancel"}, Enabled: false},
		{ID: "general_inquiry", Enabled: true},
		{ID: "hours", Keywords: []string{"open"}, Enabled: true},
	}

	tests := []struct {
		name    string
		text    string
		intents []session.Intent
		want    string
	}{
		{"keyword match", "I have a question about my BILL", intents, "billing"},
		{"first match wins", "is my invoice open", intents, "billing"},
		{"disabled intent skipped", "I want to cancel", intents, "general_inquiry"},
		{"later match", "are you open today", intents, "hours"},
		{"no default falls to first enabled", "hello", []session.Intent{
			{ID: "off", Enabled: false},
			{ID: "sales", Enabled: true},
		}, "sales"},
		{"nothing enabled", "hello", []session.Intent{{ID: "off"}}, DefaultIntentID},
		{"no intents", "hello", nil, DefaultIntentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.text, tt.intents))
		})
	}
}
