package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

// Summary is the read-only view of a live session.
type Summary struct {
	CallID     string           `json:"call_sid"`
	SessionID  string           `json:"session_id"`
	TenantID   string           `json:"tenant_id"`
	WorkflowID string           `json:"workflow_id,omitempty"`
	Mode       voicebridge.Mode `json:"mode"`
	State      string           `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
}

// Registry maps call identifiers to live sessions. Lookups never block;
// create and remove are serialized.
type Registry struct {
	sessions sync.Map // call id -> *VoiceSession
	mu       sync.Mutex
	log      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{log: log.Sub("registry")}
}

// Create registers a new session for p.CallID. The session's context is
// derived from ctx.
func (r *Registry) Create(ctx context.Context, p Params) (*VoiceSession, error) {
	if p.CallID == "" {
		return nil, fmt.Errorf("call id is required")
	}
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("unknown session mode %q", p.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions.Load(p.CallID); exists {
		return nil, fmt.Errorf("%w: %s", voicebridge.ErrDuplicateSession, p.CallID)
	}

	s := newVoiceSession(ctx, p)
	r.sessions.Store(p.CallID, s)

	r.log.Debug().
		Str("call_sid", p.CallID).
		Str("session_id", s.ID()).
		Str("tenant_id", p.TenantID).
		Str("mode", string(p.Mode)).
		Msg("session created")
	return s, nil
}

// Get returns the live session for callID.
func (r *Registry) Get(callID string) (*VoiceSession, bool) {
	v, ok := r.sessions.Load(callID)
	if !ok {
		return nil, false
	}
	return v.(*VoiceSession), true
}

// Remove drops callID from the registry and returns the session it held.
// Removing an absent call is a no-op.
func (r *Registry) Remove(callID string) *VoiceSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.sessions.LoadAndDelete(callID)
	if !ok {
		return nil
	}
	r.log.Debug().Str("call_sid", callID).Msg("session removed")
	return v.(*VoiceSession)
}

// RemoveSession drops s only if it is still the session registered for its
// call, so a late teardown never evicts a newer session.
func (r *Registry) RemoveSession(s *VoiceSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.sessions.CompareAndDelete(s.CallID(), s)
	if removed {
		r.log.Debug().Str("call_sid", s.CallID()).Msg("session removed")
	}
	return removed
}

// ListActive returns summaries of every live session, oldest first.
func (r *Registry) ListActive() []Summary {
	var out []Summary
	r.sessions.Range(func(_, v any) bool {
		s := v.(*VoiceSession)
		out = append(out, Summary{
			CallID:     s.CallID(),
			SessionID:  s.ID(),
			TenantID:   s.TenantID(),
			WorkflowID: s.WorkflowID(),
			Mode:       s.Mode(),
			State:      s.State(),
			StartedAt:  s.CreatedAt(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// All returns every live session.
func (r *Registry) All() []*VoiceSession {
	var out []*VoiceSession
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*VoiceSession))
		return true
	})
	return out
}
