package session

import (
	"strings"
)

// DefaultGreetingMaxChars caps a greeting so speech synthesis stays brief.
const DefaultGreetingMaxChars = 220

const maxGreetingSentences = 2

// ResolveGreeting returns the text the assistant opens the call with. An explicit
// greeting wins; otherwise one is derived from the assistant name and the
// business description. The result is normalized with NormalizeGreeting.
func (c AIConfig) ResolveGreeting(maxChars int) string {
	if g := strings.TrimSpace(c.Greeting); g != "" {
		return NormalizeGreeting(g, maxChars)
	}

	business := strings.TrimRight(firstSentence(c.BusinessDescription), ".!? ")
	name := strings.TrimSpace(c.AssistantName)

	var g string
	switch {
	case business != "" && name != "":
		g = "Thanks for calling " + business + ". This is " + name + ", how can I help you today?"
	case business != "":
		g = "Thanks for calling " + business + ". How can I help you today?"
	case name != "":
		g = "Hi, this is " + name + ". How can I help you today?"
	default:
		g = "Hello, thanks for calling. How can I help you today?"
	}
	return NormalizeGreeting(g, maxChars)
}

// NormalizeGreeting collapses whitespace, keeps at most two sentences and
// cuts the text at a word boundary so it is no longer than maxChars
// characters.
func NormalizeGreeting(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultGreetingMaxChars
	}
	text = strings.Join(strings.Fields(text), " ")

	sentences := splitSentences(text)
	if len(sentences) > maxGreetingSentences {
		sentences = sentences[:maxGreetingSentences]
	}
	text = strings.Join(sentences, " ")
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	// Leave room for the closing period.
	cut := string(runes[:maxChars-1])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	cut = strings.TrimRight(cut, " ,;:-")
	if !strings.HasSuffix(cut, ".") && !strings.HasSuffix(cut, "!") && !strings.HasSuffix(cut, "?") {
		cut += "."
	}
	return cut
}

// splitSentences splits on . ! or ? followed by a space or the end of text.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func firstSentence(text string) string {
	s := splitSentences(strings.Join(strings.Fields(text), " "))
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
