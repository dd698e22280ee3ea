package tracing

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	// MaxPage keeps Skip within int for any page size.
	MaxPage = math.MaxInt / MaxPageSize
)

var (
	// ErrRecordNotFound is returned by GetByID for an unknown id.
	ErrRecordNotFound = errors.New("trace record not found")
	// ErrRecordIDRequired is returned for a record or lookup without id.
	ErrRecordIDRequired = errors.New("trace record id is required")
	// ErrTraceIDRequired is returned for a blank trace id.
	ErrTraceIDRequired = errors.New("trace id is required")
	// ErrStoreRequired is returned when a queue is built without a store.
	ErrStoreRequired = errors.New("trace store is required")
)

// Filter selects records for GetPage. Zero fields do not filter.
type Filter struct {
	TraceID     string
	TenantID    string
	EventName   string
	HandlerName string
	Status      Status
	From        time.Time
	To          time.Time
	// Page is one based.
	Page     int
	PageSize int
}

// Normalize clamps Page to [1, MaxPage] and PageSize to [1, MaxPageSize].
func (f Filter) Normalize() Filter {
	f.Page = max(1, min(f.Page, MaxPage))

	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}

	f.PageSize = min(f.PageSize, MaxPageSize)

	return f
}

// Skip is the number of records before the page.
func (f Filter) Skip() int {
	f = f.Normalize()

	return (f.Page - 1) * f.PageSize
}

// Matches reports whether rec passes every set field.
func (f Filter) Matches(rec Record) bool {
	switch {
	case f.TraceID != "" && rec.TraceID != f.TraceID,
		f.TenantID != "" && rec.TenantID != f.TenantID,
		f.EventName != "" && rec.EventName != f.EventName,
		f.HandlerName != "" && rec.HandlerName != f.HandlerName,
		f.Status != "" && rec.Status != f.Status:
		return false
	}

	if rec.BeginAt == nil {
		return f.From.IsZero() && f.To.IsZero()
	}

	if !f.From.IsZero() && rec.BeginAt.Before(f.From) {
		return false
	}

	if !f.To.IsZero() && !rec.BeginAt.Before(f.To) {
		return false
	}

	return true
}

// Page is one page of records, newest first.
type Page struct {
	Items    []Record
	Total    int64
	Page     int
	PageSize int
}

// Store persists trace records.
type Store interface {
	// Write inserts rec or replaces the record with the same id.
	Write(ctx context.Context, rec Record) error
	GetPage(ctx context.Context, filter Filter) (Page, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	// GetTreeByTraceID returns the roots of the trace's record tree.
	GetTreeByTraceID(ctx context.Context, traceID string) ([]*Node, error)
	// DeleteByTraceID removes every record of the trace and reports how
	// many were removed.
	DeleteByTraceID(ctx context.Context, traceID string) (int64, error)
}
