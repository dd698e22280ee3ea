package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
)

// TraceHandler exposes a tracing.Store over HTTP. Requests resolved to a
// tenant other than main only see that tenant's records.
type TraceHandler struct {
	store tracing.Store
}

// NewTraceHandler creates a handler over store.
func NewTraceHandler(store tracing.Store) (*TraceHandler, error) {
	if nilcheck.Interface(store) {
		return nil, tracing.ErrStoreRequired
	}

	return &TraceHandler{store: store}, nil
}

// Register mounts the trace routes on router:
//
//	GET    /traces                 page of records, newest first
//	GET    /traces/records/:id     one record
//	GET    /traces/:traceId/tree   record tree of a trace
//	DELETE /traces/:traceId        removes a trace
func (h *TraceHandler) Register(router fiber.Router) {
	router.Get("/traces", h.List)
	router.Get("/traces/records/:id", h.Get)
	router.Get("/traces/:traceId/tree", h.Tree)
	router.Delete("/traces/:traceId", h.Delete)
}

// List answers a filtered page of records.
func (h *TraceHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()

	filter, err := parseFilter(c)
	if err != nil {
		return BadRequest(c, err.Error())
	}

	if !tenant.IsMain(ctx) {
		filter.TenantID = tenant.Current(ctx)
	}

	page, err := h.store.GetPage(ctx, filter)
	if err != nil {
		return h.fail(c, "list traces", err)
	}

	return OK(c, page)
}

// Get answers one record by id.
func (h *TraceHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()

	rec, err := h.store.GetByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, "get trace record", err)
	}

	if !visible(c, rec.TenantID) {
		return NotFound(c, tracing.ErrRecordNotFound.Error())
	}

	return OK(c, rec)
}

// Tree answers the record tree of a trace.
func (h *TraceHandler) Tree(c *fiber.Ctx) error {
	ctx := c.UserContext()

	roots, err := h.store.GetTreeByTraceID(ctx, c.Params("traceId"))
	if err != nil {
		return h.fail(c, "get trace tree", err)
	}

	visibleRoots := make([]*tracing.Node, 0, len(roots))

	for _, root := range roots {
		if visible(c, root.TenantID) {
			visibleRoots = append(visibleRoots, root)
		}
	}

	return OK(c, visibleRoots)
}

// Delete removes a trace. Only main may delete.
func (h *TraceHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if !tenant.IsMain(ctx) {
		return NotFound(c, tracing.ErrRecordNotFound.Error())
	}

	if _, err := h.store.DeleteByTraceID(ctx, c.Params("traceId")); err != nil {
		return h.fail(c, "delete trace", err)
	}

	return NoContent(c)
}

func (h *TraceHandler) fail(c *fiber.Ctx, operation string, err error) error {
	switch {
	case errors.Is(err, tracing.ErrRecordNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, tracing.ErrRecordIDRequired), errors.Is(err, tracing.ErrTraceIDRequired):
		return BadRequest(c, err.Error())
	}

	ctx := c.UserContext()
	logger, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	_, span := tracer.Start(ctx, "http.traces."+operation)
	libOpentelemetry.HandleSpanError(&span, "trace store failed", err)
	span.End()

	logger.Log(ctx, log.LevelError, "trace store failed", log.String("operation", operation), log.Err(err))

	return InternalServerError(c)
}

func visible(c *fiber.Ctx, recordTenant string) bool {
	ctx := c.UserContext()

	return tenant.IsMain(ctx) || recordTenant == tenant.Current(ctx)
}

func parseFilter(c *fiber.Ctx) (tracing.Filter, error) {
	filter := tracing.Filter{
		TraceID:     c.Query("trace_id"),
		EventName:   c.Query("event_name"),
		HandlerName: c.Query("handler_name"),
		Status:      tracing.Status(c.Query("status")),
	}

	var err error

	if filter.Page, err = queryInt(c, "page"); err != nil {
		return tracing.Filter{}, err
	}

	if filter.PageSize, err = queryInt(c, "page_size"); err != nil {
		return tracing.Filter{}, err
	}

	if filter.From, err = queryTime(c, "from"); err != nil {
		return tracing.Filter{}, err
	}

	if filter.To, err = queryTime(c, "to"); err != nil {
		return tracing.Filter{}, err
	}

	return filter.Normalize(), nil
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + key + " value")
	}

	return n, nil
}

func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + key + " value, expected RFC3339")
	}

	return t, nil
}
