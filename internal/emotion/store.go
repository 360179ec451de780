package emotion

import (
	"sync"
	"time"
)

// Record is one emotion score observed while an application was in the foreground.
type Record struct {
	AppID     string    `json:"app_id"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   string    `json:"emotion"`
	Score     float64   `json:"score"`
}

// Store is an append-only in-memory record list. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []Record
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Store(record Record) {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
}

// QueryByApplication returns the records of appID in insertion order.
func (s *Store) QueryByApplication(appID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Record, 0)
	for _, r := range s.records {
		if r.AppID == appID {
			ret = append(ret, r)
		}
	}
	return ret
}

func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Record, len(s.records))
	copy(ret, s.records)
	return ret
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// Drain returns every record and empties the store in one step.
func (s *Store) Drain() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.records
	s.records = nil
	if ret == nil {
		ret = make([]Record, 0)
	}
	return ret
}

// Restore puts drained records back ahead of anything stored since.
func (s *Store) Restore(records []Record) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	s.records = append(append(make([]Record, 0, len(records)+len(s.records)), records...), s.records...)
	s.mu.Unlock()
}
