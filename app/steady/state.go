// Package steady holds steady-state calculation parameters: inputs, output results and
// UI selections, wrapped into a reactive State with named-parameter helpers.
package steady

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/steadystate/app/store"
)

// Clearer removes persisted state, used by Reset
type Clearer interface {
	Clear(ctx context.Context) error
}

// State is a snapshot container with change subscription.
// Operations are serialized, subscribers run in the caller's goroutine.
type State struct {
	mu       sync.Mutex
	store    *store.Writable[Snapshot]
	defaults Snapshot
	clearer  Clearer
	now      func() time.Time
}

// Option customizes State
type Option func(*State)

// WithClearer sets storage cleaner called on Reset
func WithClearer(c Clearer) Option { return func(s *State) { s.clearer = c } }

// WithDefaults overrides compiled-in defaults used by Reset
func WithDefaults(d Snapshot) Option { return func(s *State) { s.defaults = d.Clone() } }

// WithClock sets time source for LastUpdated stamps
func WithClock(now func() time.Time) Option { return func(s *State) { s.now = now } }

// NewState makes State with initial snapshot
func NewState(initial Snapshot, opts ...Option) *State {
	res := &State{defaults: Defaults(), now: time.Now}
	for _, opt := range opts {
		opt(res)
	}
	res.store = store.New(initial.Clone())
	return res
}

// Store returns underlying writable, used to bind persistence
func (s *State) Store() *store.Writable[Snapshot] { return s.store }

// Snapshot returns a copy of current snapshot
func (s *State) Snapshot() Snapshot {
	return s.store.Get().Clone()
}

// Subscribe calls fn with current snapshot and on every change.
// fn runs inside mutating calls and must not mutate State itself.
func (s *State) Subscribe(fn func(Snapshot)) store.Unsubscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Subscribe(fn)
}

// Replace sets the whole snapshot as is, no stamping and no validation
func (s *State) Replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Set(snap.Clone())
}

// InputValue returns numeric value of the named input, 0 if absent
func (s *State) InputValue(name string) float64 {
	return s.store.Get().DataIN.Value(name).Float()
}

// OutputValue returns value of the named output, zero number if absent
func (s *State) OutputValue(name string) Value {
	return s.store.Get().DataOut.Value(name)
}

// UpdateInput sets the named input parameter. Subscribers are notified even if the name is
// unknown, in this case the inputs are unchanged and false returned.
func (s *State) UpdateInput(name string, v float64) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Update(func(snap Snapshot) Snapshot {
		res := snap.Clone()
		applied = res.DataIN.Update(name, Num(v))
		res.Stamp(s.now())
		return res
	})
	if !applied {
		log.Printf("[DEBUG] input %q not found, inputs unchanged", name)
	}
	return applied
}

// UpdateOutput sets the named output value, same semantics as UpdateInput
func (s *State) UpdateOutput(name string, v Value) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Update(func(snap Snapshot) Snapshot {
		res := snap.Clone()
		applied = res.DataOut.Update(name, v)
		res.Stamp(s.now())
		return res
	})
	return applied
}

// UpdateOutputs replaces all output results
func (s *State) UpdateOutputs(outs ParameterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Update(func(snap Snapshot) Snapshot {
		res := snap.Clone()
		res.DataOut = outs.Clone()
		res.Stamp(s.now())
		return res
	})
}

// UpdateSelection applies partial selection update
func (s *State) UpdateSelection(upd SelectionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Update(func(snap Snapshot) Snapshot {
		res := snap.Clone()
		upd.apply(&res.Selection)
		res.Stamp(s.now())
		return res
	})
}

// UpdateCalculation sets calculation flag, showResults is kept if nil
func (s *State) UpdateCalculation(isCalculating bool, showResults *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Update(func(snap Snapshot) Snapshot {
		res := snap.Clone()
		res.IsCalculating = isCalculating
		if showResults != nil {
			res.ShowResults = *showResults
		}
		res.Stamp(s.now())
		return res
	})
}

// Reset sets defaults and removes persisted state. In-memory reset always happens,
// the error reports storage cleanup failure only.
func (s *State) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Set(s.defaults.Clone())
	if s.clearer == nil {
		return nil
	}
	if err := s.clearer.Clear(ctx); err != nil {
		return fmt.Errorf("can't clear persisted state: %w", err)
	}
	return nil
}
