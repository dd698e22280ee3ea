package tracing

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps records in process. It suits tests and single-node
// development; records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Write(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return ErrRecordIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]Record)
	}

	s.records[rec.ID] = rec

	return nil
}

func (s *MemoryStore) GetPage(_ context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()

	s.mu.RLock()

	matched := make([]Record, 0)

	for _, rec := range s.records {
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}

	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Record) int {
		// newest first
		if c := cmp.Compare(beginUnix(b), beginUnix(a)); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	page := Page{Total: int64(len(matched)), Page: filter.Page, PageSize: filter.PageSize}

	if skip := filter.Skip(); skip < len(matched) {
		page.Items = matched[skip:min(skip+filter.PageSize, len(matched))]
	}

	return page, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrRecordIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	return &rec, nil
}

func (s *MemoryStore) GetTreeByTraceID(_ context.Context, traceID string) ([]*Node, error) {
	records, err := s.byTrace(traceID)
	if err != nil {
		return nil, err
	}

	return BuildTree(records), nil
}

func (s *MemoryStore) DeleteByTraceID(_ context.Context, traceID string) (int64, error) {
	if strings.TrimSpace(traceID) == "" {
		return 0, ErrTraceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64

	for id, rec := range s.records {
		if rec.TraceID == traceID {
			delete(s.records, id)
			removed++
		}
	}

	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func (s *MemoryStore) byTrace(traceID string) ([]Record, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, ErrTraceIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []Record

	for _, rec := range s.records {
		if rec.TraceID == traceID {
			records = append(records, rec)
		}
	}

	return records, nil
}

func beginUnix(rec Record) int64 {
	if rec.BeginAt == nil {
		return 0
	}

	return rec.BeginAt.UnixNano()
}
