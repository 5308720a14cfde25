package turn

import (
	"strings"

	"github.com/agentplexus/omnivoice-bridge/internal/session"
)

// DefaultIntentID is used when no configured intent matches.
const DefaultIntentID = "general_inquiry"

// DetectIntent returns the id of the first enabled intent with a keyword
// contained in text, case-insensitively. Without a match it prefers an
// enabled intent named DefaultIntentID, then the first enabled intent, then
// DefaultIntentID itself.
func DetectIntent(text string, intents []session.Intent) string {
	lower := strings.ToLower(text)
	for _, in := range intents {
		if !in.Enabled {
			continue
		}
		for _, kw := range in.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return in.ID
			}
		}
	}

	first := ""
	for _, in := range intents {
		if !in.Enabled {
			continue
		}
		if in.ID == DefaultIntentID {
			return in.ID
		}
		if first == "" {
			first = in.ID
		}
	}
	if first != "" {
		return first
	}
	return DefaultIntentID
}
