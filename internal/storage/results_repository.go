package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

// ResultsRepository keeps finished session snapshots in memory for a limited
// time after the engine retires them. Nothing is written to disk.
type ResultsRepository struct {
	logger *logrus.Logger
	mu     sync.RWMutex
	cache  map[string]cachedSession
	ttl    time.Duration
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type cachedSession struct {
	session  models.ScanSession
	storedAt time.Time
}

// NewResultsRepository starts a background sweeper when ttl is positive. A
// zero ttl keeps snapshots until they are deleted.
func NewResultsRepository(ttl time.Duration, logger *logrus.Logger) *ResultsRepository {
	if logger == nil {
		logger = logrus.New()
	}
	rr := &ResultsRepository{
		logger: logger,
		cache:  make(map[string]cachedSession),
		ttl:    ttl,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	if ttl > 0 {
		go rr.cleanupCache()
	}
	return rr
}

func (rr *ResultsRepository) Store(session models.ScanSession) error {
	if err := validateSession(&session); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.cache[session.ID] = cachedSession{session: session.Clone(), storedAt: rr.now()}
	rr.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"status":     session.Status,
		"findings":   len(session.Findings),
	}).Debug("Session snapshot retained")
	return nil
}

func (rr *ResultsRepository) Get(id string) (models.ScanSession, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	c, ok := rr.cache[id]
	if !ok || rr.expired(c) {
		return models.ScanSession{}, false
	}
	return c.session.Clone(), true
}

// List returns unexpired snapshots, newest first.
func (rr *ResultsRepository) List() []models.ScanSession {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	out := make([]models.ScanSession, 0, len(rr.cache))
	for _, c := range rr.cache {
		if rr.expired(c) {
			continue
		}
		out = append(out, c.session.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (rr *ResultsRepository) Delete(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.cache, id)
}

func (rr *ResultsRepository) Len() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.cache)
}

// Purge drops expired snapshots and returns how many were removed.
func (rr *ResultsRepository) Purge() int {
	if rr.ttl <= 0 {
		return 0
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	n := 0
	for id, c := range rr.cache {
		if rr.expired(c) {
			delete(rr.cache, id)
			n++
		}
	}
	return n
}

func (rr *ResultsRepository) GetStats() map[string]interface{} {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	statusCounts := make(map[string]int)
	findings := 0
	for _, c := range rr.cache {
		statusCounts[string(c.session.Status)]++
		findings += len(c.session.Findings)
	}
	return map[string]interface{}{
		"retained_sessions": len(rr.cache),
		"retained_findings": findings,
		"session_ttl":       rr.ttl.String(),
		"results_by_status": statusCounts,
	}
}

// Close stops the sweeper.
func (rr *ResultsRepository) Close() {
	rr.stopOnce.Do(func() { close(rr.stop) })
}

func (rr *ResultsRepository) expired(c cachedSession) bool {
	return rr.ttl > 0 && rr.now().Sub(c.storedAt) > rr.ttl
}

func (rr *ResultsRepository) cleanupCache() {
	interval := rr.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rr.Purge(); n > 0 {
				rr.logger.WithField("removed", n).Debug("Expired session snapshots removed")
			}
		case <-rr.stop:
			return
		}
	}
}

func validateSession(s *models.ScanSession) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("start time is required")
	}
	if !s.Status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", s.Status)
	}
	return nil
}
