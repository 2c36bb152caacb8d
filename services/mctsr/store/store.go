// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists finished search runs in BadgerDB so they can be
// listed and inspected after the process that ran them exits.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/mctsr/services/mctsr/search"
)

var (
	// ErrNotFound is returned when no run has the requested ID.
	ErrNotFound = errors.New("run not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("run store closed")
)

const (
	runPrefix   = "run/"
	indexPrefix = "idx/"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one stored search run.
type Run struct {
	ID         string               `json:"id"`
	Problem    string               `json:"problem"`
	Status     RunStatus            `json:"status"`
	Answer     string               `json:"answer,omitempty"`
	BestQ      float64              `json:"best_q"`
	Error      string               `json:"error,omitempty"`
	Rollouts   int                  `json:"rollouts"`
	Config     search.Config        `json:"config"`
	Tree       *search.TreeSnapshot `json:"tree,omitempty"`
	Log        search.RunLog        `json:"log,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
}

// Summary is the list view of a run.
type Summary struct {
	ID         string    `json:"id"`
	Problem    string    `json:"problem"`
	Status     RunStatus `json:"status"`
	Answer     string    `json:"answer,omitempty"`
	BestQ      float64   `json:"best_q"`
	Rollouts   int       `json:"rollouts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Summary returns the list view of r.
func (r *Run) Summary() Summary {
	return Summary{
		ID:         r.ID,
		Problem:    r.Problem,
		Status:     r.Status,
		Answer:     r.Answer,
		BestQ:      r.BestQ,
		Rollouts:   r.Rollouts,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// NewRun captures the state of s. A nil runErr with finished set marks the
// run succeeded; a non-nil runErr marks it failed. When finished is false
// the run is recorded as still running.
func NewRun(s *search.Search, startedAt time.Time, finished bool, answer string, runErr error) *Run {
	best := s.Best()
	run := &Run{
		ID:        s.ID(),
		Problem:   s.Problem(),
		Status:    RunRunning,
		BestQ:     best.Q(),
		Rollouts:  s.Completed(),
		Config:    s.Config(),
		Tree:      s.Tree().Snapshot(),
		Log:       s.Log(),
		StartedAt: startedAt,
	}
	if !finished {
		return run
	}
	run.FinishedAt = time.Now()
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		return run
	}
	run.Status = RunSucceeded
	run.Answer = answer
	return run
}

// RunStore keeps runs in BadgerDB.
//
// Runs are stored as JSON under "run/<id>". A second key under "idx/"
// orders runs newest first for listing.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db  *badger.DB
	ttl time.Duration
	gc  *gcRunner

	mu     sync.RWMutex
	closed bool
}

// Open opens a run store.
//
// Inputs:
//   - cfg: Store configuration. Path is required unless InMemory is set.
//
// Outputs:
//   - *RunStore: The store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*RunStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &RunStore{db: db, ttl: cfg.RunTTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*RunStore, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Safe to call multiple times.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// indexKey sorts newest first: the timestamp is inverted and zero padded.
func indexKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d/%s", indexPrefix, math.MaxInt64-startedAt.UnixNano(), id))
}

// Save inserts or replaces run.
func (s *RunStore) Save(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil || run.ID == "" {
		return errors.New("save run: id is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		runEntry := badger.NewEntry(runKey(run.ID), data)
		idxEntry := badger.NewEntry(indexKey(run.StartedAt, run.ID), nil)
		if s.ttl > 0 {
			runEntry = runEntry.WithTTL(s.ttl)
			idxEntry = idxEntry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(runEntry); err != nil {
			return err
		}
		return txn.SetEntry(idxEntry)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns the run with id.
//
// Outputs:
//   - *Run: The stored run.
//   - error: ErrNotFound if no run has this id.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}

// List returns up to limit run summaries, newest first. A non-positive
// limit returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	summaries := make([]Summary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(indexPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(summaries) >= limit {
				return nil
			}
			key := string(it.Item().Key())
			id := key[strings.LastIndexByte(key, '/')+1:]

			item, err := txn.Get(runKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var run Run
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			summaries = append(summaries, run.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return summaries, nil
}

// Delete removes the run with id. Deleting a missing run returns ErrNotFound.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(runKey(id)); err != nil {
			return err
		}
		return txn.Delete(indexKey(run.StartedAt, id))
	})
}
