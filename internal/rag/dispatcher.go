// Package rag provides the tenant-scoped knowledge base and the dispatcher
// that answers knowledge lookups for both conversation modes.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/realtime"
)

// ToolSearchKnowledgeBase is the function name exposed to the realtime AI.
const ToolSearchKnowledgeBase = "search_knowledge_base"

// Dispatcher defaults.
const (
	DefaultLimit   = 3
	DefaultTimeout = 2 * time.Second
)

// Searcher is a tenant-scoped knowledge search. *Store implements it.
type Searcher interface {
	Search(ctx context.Context, tenantID, query string, limit int) ([]Snippet, error)
}

// Dispatcher routes knowledge lookups to a Searcher, bounded by a timeout
// and filtered by a minimum score.
type Dispatcher struct {
	searcher Searcher
	limit    int
	minScore float64
	timeout  time.Duration
	log      *logging.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLimit sets the maximum number of snippets returned.
func WithLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithMinScore drops snippets scoring below min.
func WithMinScore(min float64) Option {
	return func(d *Dispatcher) {
		d.minScore = min
	}
}

// WithTimeout bounds each search.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher creates a dispatcher over s. A nil searcher yields a
// dispatcher that always returns no results.
func NewDispatcher(s Searcher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		searcher: s,
		limit:    DefaultLimit,
		timeout:  DefaultTimeout,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Sub("rag")
	return d
}

// Search returns the most relevant snippets for query within tenantID.
// Failures and timeouts are logged and yield no results.
func (d *Dispatcher) Search(ctx context.Context, tenantID, query string) []Snippet {
	if d == nil || d.searcher == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	results, err := d.searcher.Search(ctx, tenantID, query, d.limit)
	if err != nil {
		d.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("knowledge search failed")
		return nil
	}

	out := results[:0:0]
	for _, r := range results {
		if r.Score < d.minScore {
			continue
		}
		out = append(out, r)
		if len(out) == d.limit {
			break
		}
	}

	d.log.Debug().
		Str("tenant_id", tenantID).
		Int("results", len(out)).
		Dur("took", time.Since(start)).
		Msg("knowledge search")
	return out
}

// ContextBlock formats snippets for inclusion in a completion prompt.
// It returns "" when there is nothing to add.
func ContextBlock(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant information from the knowledge base:\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "%d. ", i+1)
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// ToolDefinition describes the knowledge search function to the realtime AI.
func ToolDefinition() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        ToolSearchKnowledgeBase,
		Description: "Search the business knowledge base for facts needed to answer the caller.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"What to look up"}},"required":["query"]}`),
	}
}

type toolArgs struct {
	Query string `json:"query"`
}

type toolResult struct {
	Results []Snippet `json:"results"`
	Error   string    `json:"error,omitempty"`
}

// HandleToolCall executes a function call from the realtime AI and returns
// the JSON output to send back. It never fails: errors are reported in the
// output so the AI turn always gets an answer.
func (d *Dispatcher) HandleToolCall(ctx context.Context, tenantID, name, arguments string) string {
	if name != ToolSearchKnowledgeBase {
		d.log.Warn().Str("tool", name).Msg("unknown tool called")
		return encodeResult(toolResult{Results: []Snippet{}, Error: fmt.Sprintf("unknown tool %q", name)})
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return encodeResult(toolResult{Results: []Snippet{}, Error: "invalid arguments"})
	}

	results := d.Search(ctx, tenantID, args.Query)
	if results == nil {
		results = []Snippet{}
	}
	return encodeResult(toolResult{Results: results})
}

func encodeResult(r toolResult) string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"results":[],"error":"encoding failed"}`
	}
	return string(b)
}
