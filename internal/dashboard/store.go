package dashboard

import (
	"sort"
	"sync"
	"time"
)

const (
	maxRuns      = 500
	maxTotalLogs = 10000
)

// Store provides thread-safe in-memory storage for scan runs and logs.
// Readers get copies.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*ScanRun
	logs []LogEntry
}

// NewStore creates a new Store instance.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]*ScanRun),
		logs: make([]LogEntry, 0, 256),
	}
}

// CreateRun adds a new scan run to the store.
func (s *Store) CreateRun(run *ScanRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	s.evictOldRuns()
}

// GetRun retrieves a scan run by ID.
func (s *Store) GetRun(id string) (ScanRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return ScanRun{}, false
	}
	return *run, true
}

// ListRuns returns the runs of a session sorted by StartedAt descending. An
// empty sessionID lists every run.
func (s *Store) ListRuns(sessionID string) []ScanRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]ScanRun, 0, len(s.runs))
	for _, run := range s.runs {
		if sessionID == "" || run.SessionID == sessionID {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs
}

// UpdateRun performs a thread-safe update on a scan run.
func (s *Store) UpdateRun(id string, fn func(*ScanRun)) (ScanRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ScanRun{}, false
	}
	fn(run)
	return *run, true
}

// RunStats aggregates the runs of a session.
func (s *Store) RunStats(sessionID string) RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats RunStats
	for _, run := range s.runs {
		if sessionID != "" && run.SessionID != sessionID {
			continue
		}
		stats.Total++
		stats.Applied += run.Applied
		stats.Rejected += run.Rejected
		switch run.Status {
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusStopped:
			stats.Stopped++
		}
	}
	return stats
}

// AddLog adds a log entry to the store.
func (s *Store) AddLog(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, entry)

	if len(s.logs) > maxTotalLogs {
		s.logs = s.logs[len(s.logs)-maxTotalLogs:]
	}
}

// GetLogs retrieves logs for a session, most recent first.
func (s *Store) GetLogs(sessionID string, limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filtered := []LogEntry{}
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].SessionID == sessionID {
			filtered = append(filtered, s.logs[i])
			if limit > 0 && len(filtered) >= limit {
				break
			}
		}
	}

	return filtered
}

// evictOldRuns removes the oldest finished runs beyond maxRuns.
// Must be called with lock held.
func (s *Store) evictOldRuns() {
	if len(s.runs) <= maxRuns {
		return
	}

	type runTime struct {
		id   string
		time time.Time
	}

	var finished []runTime
	for id, run := range s.runs {
		if run.Status.Finished() {
			t := run.StartedAt
			if run.CompletedAt != nil {
				t = *run.CompletedAt
			}
			finished = append(finished, runTime{id: id, time: t})
		}
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})

	toDelete := len(s.runs) - maxRuns
	for i := 0; i < toDelete && i < len(finished); i++ {
		delete(s.runs, finished[i].id)
	}
}
