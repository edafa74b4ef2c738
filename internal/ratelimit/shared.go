package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kis-core/execution/internal/kiserrors"
	"github.com/kis-core/execution/internal/logging"
	"github.com/kis-core/execution/internal/metrics"
)

// errUnsupportedLock is returned by flockExclusive on platforms with no
// wired file-lock primitive.
var errUnsupportedLock = errors.New("ratelimit: file locking unsupported on this platform")

// sharedFileState is the on-disk layout of the shared rate-budget state
// file (spec §6): a single JSON mapping endpoint_class -> bucket state,
// carried over verbatim from original_source/kis_core/shared_rate_budget.py.
type sharedFileState map[EndpointClass]State

// SharedBudget adds cross-process synchronization to Budget via a single
// file-locked state file (spec §4.9, C9). Each TryConsume is an
// open-lock-read-mutate-write-unlock transaction; if the file cannot be
// opened or locked, the call falls back to the wrapped in-process Budget's
// behavior (degraded single-process semantics) and logs a warning.
type SharedBudget struct {
	mu        sync.Mutex
	stateFile string
	inProcess *Budget
	log       logging.Logger
}

// NewSharedBudget wraps inProcess with cross-process file-lock
// synchronization backed by stateFile. The parent directory is created if
// absent.
func NewSharedBudget(stateFile string, inProcess *Budget) (*SharedBudget, error) {
	dir := filepath.Dir(stateFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &SharedBudget{
		stateFile: stateFile,
		inProcess: inProcess,
		log:       logging.Default().With("shared_rate_budget"),
	}, nil
}

// TryConsume performs the full file-locked transaction described in spec
// §4.9: open, lock, load persisted state into the in-process buckets,
// delegate to Budget.TryConsume, persist the mutated state, unlock. On any
// failure to open/lock the file it falls back to in-memory-only semantics.
func (s *SharedBudget) TryConsume(class EndpointClass, strategyID string, cost float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.stateFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		s.log.Warnf("shared rate budget: cannot open state file %s: %v; degrading to in-memory", s.stateFile, err)
		metrics.SharedBudgetLockFailuresTotal.Inc()
		return s.inProcess.TryConsume(class, strategyID, cost)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		s.log.Warnf("shared rate budget: cannot lock state file %s: %v; degrading to in-memory", s.stateFile, err)
		metrics.SharedBudgetLockFailuresTotal.Inc()
		return s.inProcess.TryConsume(class, strategyID, cost)
	}
	defer func() {
		if err := flockUnlock(f); err != nil {
			s.log.Warnf("shared rate budget: failed to unlock %s: %v", s.stateFile, err)
		}
	}()

	persisted := s.load(f)
	s.applyPersisted(persisted)

	ok := s.inProcess.TryConsume(class, strategyID, cost)

	s.write(f, s.snapshotAll())
	return ok
}

func (s *SharedBudget) load(f *os.File) sharedFileState {
	if _, err := f.Seek(0, 0); err != nil {
		return nil
	}
	dec := json.NewDecoder(f)
	var state sharedFileState
	if err := dec.Decode(&state); err != nil {
		return nil
	}
	return state
}

func (s *SharedBudget) applyPersisted(persisted sharedFileState) {
	if persisted == nil {
		return
	}
	for class, st := range persisted {
		bucket := s.inProcess.BucketFor(class)
		if st.Capacity > 0 {
			bucket.LoadState(st)
		}
	}
}

func (s *SharedBudget) snapshotAll() sharedFileState {
	out := make(sharedFileState, len(s.inProcess.buckets))
	for class, bucket := range s.inProcess.buckets {
		out[class] = bucket.Snapshot()
	}
	return out
}

func (s *SharedBudget) write(f *os.File, state sharedFileState) {
	if err := f.Truncate(0); err != nil {
		s.log.Warnf("shared rate budget: truncate failed: %v", err)
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		s.log.Warnf("shared rate budget: seek failed: %v", err)
		return
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(state); err != nil {
		s.log.Warnf("shared rate budget: encode failed: %v", err)
	}
}

// CallREST mirrors Budget.CallREST, routed through the shared transaction.
func (s *SharedBudget) CallREST(class EndpointClass, strategyID string, fn func() error) error {
	if !s.TryConsume(class, strategyID, 1) {
		return fmt.Errorf("%s: %w", class, kiserrors.ErrRateLimited)
	}
	return fn()
}
