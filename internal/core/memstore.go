package core

import (
	"context"
	"sort"
	"sync"

	"LootLedger/internal/failure"
)

// MemoryStore is an in-process OutcomeStore for tests and single-node
// development runs.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Outcome
	byPayment map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Outcome),
		byPayment: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Outcome) (*Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPayment[o.PaymentRef]; ok {
		return clone(s.byID[id]), false, nil
	}
	if _, ok := s.byID[o.ID]; ok {
		return nil, false, failure.New(failure.Internal, "outcome %s already exists", o.ID)
	}
	stored := clone(o)
	s.byID[o.ID] = stored
	s.byPayment[o.PaymentRef] = o.ID
	return clone(stored), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, failure.New(failure.NotFound, "outcome %s not found", id)
	}
	return clone(o), nil
}

func (s *MemoryStore) GetByPaymentRef(_ context.Context, ref string) (*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPayment[ref]
	if !ok {
		return nil, failure.New(failure.NotFound, "no outcome for payment %s", ref)
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) Settle(_ context.Context, id string, st Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return failure.New(failure.NotFound, "outcome %s not found", id)
	}
	if o.State != StateDeciding {
		return failure.New(failure.DecisionAlreadyMade, "outcome %s is %s", id, o.State)
	}
	decided := st.DecidedAt
	o.State = st.State
	o.Decision = st.Decision
	o.SettledAmountMinor = st.AmountMinor
	o.SettlementSignature = st.Signature
	o.DecidedAt = &decided
	return nil
}

func (s *MemoryStore) ListByPrincipal(_ context.Context, principalID string, limit int) ([]*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Outcome
	for _, o := range s.byID {
		if o.PrincipalID == principalID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o *Outcome) *Outcome {
	c := *o
	if o.DecidedAt != nil {
		t := *o.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}
