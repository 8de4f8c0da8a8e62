// Package tiered provides a Hot/Cold tiered access-code store that pairs
// fast ephemeral storage (Hot, e.g. Redis) with durable storage (Cold,
// e.g. Postgres) as the source of truth.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// HotStore is an access-code store that can also be warmed unconditionally
type HotStore interface {
	access.AccessCodeStore

	// CacheAccessCode stores code, replacing any existing entry
	CacheAccessCode(ctx context.Context, code *access.AccessCode) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory)
	Hot HotStore

	// Cold is the L2 persistence storage (e.g., Postgres) as the source of truth
	Cold access.AccessCodeStore

	// AsyncHotWrites warms Hot in the background after a Cold insert.
	// If false, Hot is written synchronously.
	AsyncHotWrites bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot write fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements access.AccessCodeStore over two tiers:
// - Read-Through: GetAccessCode, FindActiveAccessCode (Hot → Cold → repair Hot)
// - Write-Through: InsertAccessCode (Cold → Hot)
type Storage struct {
	hot  HotStore
	cold access.AccessCodeStore
	conf Config

	// Channel for async synchronization
	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotWrites {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotWrites {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background synchronization loop.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered sync failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetAccessCode implements access.AccessCodeStore with read-through strategy.
func (s *Storage) GetAccessCode(ctx context.Context, code string) (*access.AccessCode, error) {
	// 1. Try Hot
	c, err := s.hot.GetAccessCode(ctx, code)
	if err == nil {
		return c, nil
	}

	// 2. Try Cold (Source of Truth)
	c, err = s.cold.GetAccessCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// 3. Populate Hot (Read-Repair)
	_ = s.hot.CacheAccessCode(ctx, c) //nolint:errcheck // Cache fill - errors are non-critical
	return c, nil
}

// FindActiveAccessCode implements access.AccessCodeStore with read-through strategy.
func (s *Storage) FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*access.AccessCode, error) {
	c, err := s.hot.FindActiveAccessCode(ctx, userID, now)
	if err == nil {
		return c, nil
	}

	c, err = s.cold.FindActiveAccessCode(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	_ = s.hot.CacheAccessCode(ctx, c) //nolint:errcheck // Cache fill - errors are non-critical
	return c, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// InsertAccessCode implements access.AccessCodeStore with write-through strategy.
// Cold decides uniqueness; Hot only mirrors what Cold accepted.
func (s *Storage) InsertAccessCode(ctx context.Context, code *access.AccessCode) error {
	// 1. Write Cold (Durability)
	if err := s.cold.InsertAccessCode(ctx, code); err != nil {
		return err
	}

	// 2. Write Hot (Availability)
	if !s.conf.AsyncHotWrites {
		if err := s.hot.CacheAccessCode(ctx, code); err != nil {
			s.reportError(fmt.Errorf("tiered storage: hot write failed: %w", err))
		}
		return nil
	}

	// Clone to avoid races if caller modifies it
	clone := *code
	select {
	case s.syncQueue <- func() error {
		// Context background ensures completion even if request cancels
		return s.hot.CacheAccessCode(context.Background(), &clone)
	}:
	default:
		s.reportError(errors.New("tiered storage: sync queue full, dropping hot write"))
	}
	return nil
}
