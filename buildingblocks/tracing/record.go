package tracing

import (
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
)

// Status is the execution state of a traced handler.
type Status string

const (
	StatusNotExecuted Status = "NotExecuted"
	StatusExecuting   Status = "Executing"
	StatusSuccess     Status = "Success"
	StatusFail        Status = "Fail"
)

// Terminal reports whether no later record for the same id is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// Record is one node of an execution trace. Writing a record with an id
// already stored replaces it.
type Record struct {
	ID            string          `json:"id" bson:"_id"`
	ParentID      string          `json:"parentId,omitempty" bson:"parent_id,omitempty"`
	TraceID       string          `json:"traceId" bson:"trace_id"`
	EventCategory *event.Category `json:"eventCategory,omitempty" bson:"event_category,omitempty"`
	EventName     string          `json:"eventName" bson:"event_name"`
	Status        Status          `json:"status" bson:"status"`
	BeginAt       *time.Time      `json:"beginAt,omitempty" bson:"begin_at,omitempty"`
	EndAt         *time.Time      `json:"endAt,omitempty" bson:"end_at,omitempty"`
	Payload       string          `json:"payload,omitempty" bson:"payload,omitempty"`
	HandlerName   string          `json:"handlerName,omitempty" bson:"handler_name,omitempty"`
	ExceptionInfo string          `json:"exceptionInfo,omitempty" bson:"exception_info,omitempty"`
	TenantID      string          `json:"tenantId,omitempty" bson:"tenant_id,omitempty"`
}

// Duration is EndAt - BeginAt, zero until both are set.
func (r Record) Duration() time.Duration {
	if r.BeginAt == nil || r.EndAt == nil {
		return 0
	}

	return r.EndAt.Sub(*r.BeginAt)
}
