package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/steadystate/app/steady"
	"github.com/umputun/steadystate/app/store"
)

var (
	// ErrNotFound returned by backends when nothing persisted yet
	ErrNotFound = errors.New("persisted state not found")
	// ErrUnavailable wraps storage read failures
	ErrUnavailable = errors.New("storage unavailable")
	// ErrMalformed wraps parse, structure and version failures of persisted data
	ErrMalformed = errors.New("malformed persisted state")
)

// DefaultKey is the fixed key (and file name stem) of persisted snapshot
const DefaultKey = "steadyStateData"

// requiredFields must be present and non-null in persisted data, otherwise it is ignored
var requiredFields = []string{"dataIN", "dataOut", "selectedSimulationStep"}

//go:generate moq -out mocks/backend.go -pkg mocks -skip-ensure -fmt goimports . Backend

// Backend stores a single blob
type Backend interface {
	Read(ctx context.Context) ([]byte, error) // ErrNotFound if nothing stored
	Write(ctx context.Context, data []byte) error
	Remove(ctx context.Context) error
	String() string
}

// Repeater runs fun with retries
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Adapter loads and saves snapshots with a backend
type Adapter struct {
	backend  Backend
	defaults steady.Snapshot
	repeater Repeater
	now      func() time.Time
	onError  func(error)

	async   bool
	group   *syncs.SizedGroup
	groupMu sync.Mutex
	seq     atomic.Uint64 // sequence of the last scheduled async save
	writeMu sync.Mutex    // serializes async writes, guards written
	written uint64        // sequence of the last attempted async save
}

// Params for New, zero values are replaced with defaults
type Params struct {
	Defaults steady.Snapshot  // snapshot used when nothing usable persisted, compiled-in if empty
	Attempts int              // write attempts, 1 by default (single best-effort attempt)
	Delay    time.Duration    // initial delay between attempts
	Async    int              // concurrent async writers, 0 for synchronous writes
	Now      func() time.Time // clock for lastUpdated stamp
	OnError  func(error)      // called with every failed save made by Bind
}

// New makes Adapter for backend
func New(backend Backend, params Params) *Adapter {
	res := &Adapter{
		backend:  backend,
		defaults: params.Defaults,
		now:      params.Now,
		onError:  params.OnError,
	}
	if res.defaults.DataIN == nil && res.defaults.DataOut == nil {
		res.defaults = steady.Defaults()
	}
	if res.now == nil {
		res.now = time.Now
	}
	attempts := params.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := params.Delay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	res.repeater = repeater.New(&strategy.Backoff{Repeats: attempts, Duration: delay, Factor: 2})

	if params.Async > 0 {
		res.async = true
		res.group = syncs.NewSizedGroup(params.Async)
	}
	log.Printf("[DEBUG] persistence adapter %s, attempts:%d, async:%d", backend, attempts, params.Async)
	return res
}

// Load reads persisted snapshot and merges it onto defaults. It always returns a usable snapshot,
// defaults on any failure. Absent data is not an error.
func (a *Adapter) Load(ctx context.Context) (steady.Snapshot, error) {
	data, err := a.backend.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("[DEBUG] nothing persisted in %s, using defaults", a.backend)
			return a.defaults.Clone(), nil
		}
		return a.defaults.Clone(), fmt.Errorf("%w: read from %s: %v", ErrUnavailable, a.backend, err)
	}

	res, err := Decode(data, a.defaults)
	if err != nil {
		return a.defaults.Clone(), err
	}
	log.Printf("[DEBUG] loaded persisted state from %s, updated %v", a.backend, res.UpdatedAt())
	return res, nil
}

// Decode parses persisted data, migrates it to the current version and overlays
// every present top-level field onto defaults. Fields missing in data keep default values.
func Decode(data []byte, defaults steady.Snapshot) (steady.Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return defaults.Clone(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, k := range requiredFields {
		if raw, ok := fields[k]; !ok || string(raw) == "null" || string(raw) == `""` {
			return defaults.Clone(), fmt.Errorf("%w: missing %q", ErrMalformed, k)
		}
	}

	fields, err := migrate(fields)
	if err != nil {
		return defaults.Clone(), err
	}

	// overlay: start from defaults encoded as fields, replace by persisted ones
	base, err := json.Marshal(defaults)
	if err != nil {
		return defaults.Clone(), fmt.Errorf("can't encode defaults: %w", err)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return defaults.Clone(), fmt.Errorf("can't decode defaults: %w", err)
	}
	for k, v := range fields {
		if string(v) == "null" {
			continue
		}
		merged[k] = v
	}

	mergedData, err := json.Marshal(merged)
	if err != nil {
		return defaults.Clone(), fmt.Errorf("can't encode merged state: %w", err)
	}
	var res steady.Snapshot
	if err := json.Unmarshal(mergedData, &res); err != nil {
		return defaults.Clone(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := res.Validate(); err != nil {
		return defaults.Clone(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	res.Version = steady.SchemaVersion
	return res, nil
}

// Encode stamps snapshot with ts and current schema version and serializes it
func Encode(snap steady.Snapshot, ts time.Time) ([]byte, error) {
	snap.Stamp(ts)
	snap.Version = steady.SchemaVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("can't encode snapshot: %w", err)
	}
	return data, nil
}

// Save serializes snapshot and writes it. In async mode the write is scheduled and Save
// returns right away, the write error goes to OnError and log. Scheduled writes
// overtaken by a newer one are skipped, so the last saved snapshot always wins.
func (a *Adapter) Save(ctx context.Context, snap steady.Snapshot) error {
	data, err := Encode(snap, a.now())
	if err != nil {
		return err
	}

	if !a.async {
		return a.write(ctx, data)
	}

	n := a.seq.Add(1)
	a.groupMu.Lock()
	a.group.Go(func(context.Context) {
		a.writeMu.Lock()
		defer a.writeMu.Unlock()
		if n < a.written {
			return // stale, newer snapshot already written
		}
		a.written = n
		// detached from caller's ctx, the caller is gone by now
		if err := a.write(context.WithoutCancel(ctx), data); err != nil {
			a.reportError(err)
		}
	})
	a.groupMu.Unlock()
	return nil
}

// Flush waits for all scheduled async writes
func (a *Adapter) Flush() {
	if !a.async {
		return
	}
	a.groupMu.Lock()
	defer a.groupMu.Unlock()
	a.group.Wait()
}

// Clear waits for scheduled writes and removes persisted data
func (a *Adapter) Clear(ctx context.Context) error {
	a.Flush()
	if err := a.backend.Remove(ctx); err != nil {
		return fmt.Errorf("can't remove from %s: %w", a.backend, err)
	}
	log.Printf("[DEBUG] persisted state removed from %s", a.backend)
	return nil
}

// Bind subscribes to the store and saves every change, including the current value.
// Failures are logged and passed to OnError, never returned to the mutating caller.
func (a *Adapter) Bind(ctx context.Context, st *store.Writable[steady.Snapshot]) store.Unsubscriber {
	return st.Subscribe(func(snap steady.Snapshot) {
		if err := a.Save(ctx, snap); err != nil {
			a.reportError(err)
		}
	})
}

func (a *Adapter) String() string {
	return fmt.Sprintf("backend:%s, async:%v", a.backend, a.async)
}

func (a *Adapter) write(ctx context.Context, data []byte) error {
	err := a.repeater.Do(ctx, func() error {
		return a.backend.Write(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("can't write to %s: %w", a.backend, err)
	}
	return nil
}

func (a *Adapter) reportError(err error) {
	log.Printf("[WARN] failed to save state, %v", err)
	if a.onError != nil {
		a.onError(err)
	}
}
