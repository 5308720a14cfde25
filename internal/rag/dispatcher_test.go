package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	results []Snippet
	err     error
	delay   time.Duration
	tenant  string
	limit   int
}

func (f *fakeSearcher) Search(ctx context.Context, tenantID, query string, limit int) ([]Snippet, error) {
	f.tenant = tenantID
	f.limit = limit
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

func TestDispatcherFiltersByScore(t *testing.T) {
	f := &fakeSearcher{results: []Snippet{
		{Title: "a", Score: 3},
		{Title: "b", Score: 0.5},
		{Title: "c", Score: 2},
	}}
	d := NewDispatcher(f, WithMinScore(1), WithLimit(5))

	got := d.Search(context.Background(), "acme", "hours")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, "c", got[1].Title)
	assert.Equal(t, "acme", f.tenant)
	assert.Equal(t, 5, f.limit)
}

func TestDispatcherErrorsYieldEmpty(t *testing.T) {
	d := NewDispatcher(&fakeSearcher{err: errors.New("db gone")})
	assert.Empty(t, d.Search(context.Background(), "acme", "hours"))
}

func TestDispatcherTimeout(t *testing.T) {
	d := NewDispatcher(&fakeSearcher{delay: time.Second, results: []Snippet{{Title: "late"}}},
		WithTimeout(20*time.Millisecond))

	start := time.Now()
	assert.Empty(t, d.Search(context.Background(), "acme", "hours"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatcherNilSearcher(t *testing.T) {
	d := NewDispatcher(nil)
	assert.Empty(t, d.Search(context.Background(), "acme", "hours"))
	assert.Equal(t, `{"results":[]}`, d.HandleToolCall(context.Background(), "acme", ToolSearchKnowledgeBase, `{"query":"x"}`))
}

func TestHandleToolCall(t *testing.T) {
	d := NewDispatcher(&fakeSearcher{results: []Snippet{{DocumentID: "d1", Title: "Hours", Content: "9 to 5", Score: 1}}})

	out := d.HandleToolCall(context.Background(), "acme", ToolSearchKnowledgeBase, `{"query":"hours"}`)
	var res toolResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "9 to 5", res.Results[0].Content)
	assert.Empty(t, res.Error)
}

func TestHandleToolCallErrors(t *testing.T) {
	d := NewDispatcher(&fakeSearcher{})

	out := d.HandleToolCall(context.Background(), "acme", "transfer_call", `{}`)
	assert.JSONEq(t, `{"results":[],"error":"unknown tool \"transfer_call\""}`, out)

	out = d.HandleToolCall(context.Background(), "acme", ToolSearchKnowledgeBase, `not json`)
	assert.JSONEq(t, `{"results":[],"error":"invalid arguments"}`, out)
}

func TestContextBlock(t *testing.T) {
	assert.Equal(t, "", ContextBlock(nil))
	block := ContextBlock([]Snippet{{Title: "Hours", Content: " 9 to 5 "}, {Content: "Free parking"}})
	assert.Equal(t, "Relevant information from the knowledge base:\n1. Hours: 9 to 5\n2. Free parking\n", block)
}

func TestToolDefinition(t *testing.T) {
	tool := ToolDefinition()
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, ToolSearchKnowledgeBase, tool.Name)
	assert.True(t, json.Valid(tool.Parameters))
}

func TestStoreSatisfiesSearcher(t *testing.T) {
	var _ Searcher = (*Store)(nil)
}
