package ice

import (
	"sync"
	"time"
)

// HarvestStatistics is an introspectable record of one harvest()
// invocation's timing and outcome, exposed both through the icectl CLI
// and the goice_gather_* Prometheus metrics.
type HarvestStatistics struct {
	mu sync.Mutex

	Started  time.Time
	Finished time.Time

	CandidateCount int
	BindAttempts   int
	BindFailures   int

	// Err holds the terminal error of the harvest, if any. A non-nil Err
	// with CandidateCount > 0 indicates the harvester reported partial
	// progress before failing, per spec §7 "setup-path" error handling.
	Err error
}

// Duration reports how long the harvest took. Zero if Finished has not
// been recorded yet.
func (s *HarvestStatistics) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

func (s *HarvestStatistics) recordStart(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = now
}

func (s *HarvestStatistics) recordFinish(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finished = now
	s.Err = err
}

func (s *HarvestStatistics) recordBindAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BindAttempts++
}

func (s *HarvestStatistics) recordBindFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BindFailures++
}

func (s *HarvestStatistics) recordCandidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CandidateCount++
}

// Snapshot returns a copy of the statistics safe to read without racing
// an in-flight harvest.
func (s *HarvestStatistics) Snapshot() HarvestStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HarvestStatistics{
		Started:        s.Started,
		Finished:       s.Finished,
		CandidateCount: s.CandidateCount,
		BindAttempts:   s.BindAttempts,
		BindFailures:   s.BindFailures,
		Err:            s.Err,
	}
}
