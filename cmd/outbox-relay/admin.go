package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libHTTP "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/net/http"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/transport/rabbitmq"
)

// adminServer serves health and the trace query API until the launcher
// context ends.
type adminServer struct {
	addr   string
	app    *fiber.App
	logger log.Logger
}

func newAdminServer(addr string, store tracing.Store, queue *tracing.Queue, publisher *rabbitmq.Publisher, logger log.Logger) (*adminServer, error) {
	traces, err := libHTTP.NewTraceHandler(store)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberrecover.New())

	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(buildingblocks.ContextWithLogger(c.UserContext(), logger))

		return c.Next()
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":              "available",
			"publisher_breaker":   publisher.BreakerState().String(),
			"trace_queue_pending": queue.Pending(),
		})
	})

	app.Use(libHTTP.WithTenant(libHTTP.WithTenantLogger(logger)))
	traces.Register(app)

	return &adminServer{addr: addr, app: app, logger: logger}, nil
}

func (s *adminServer) Run(launcher *buildingblocks.Launcher) error {
	ctx := launcher.Context()

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.addr)
	}()

	s.logger.Log(ctx, log.LevelInfo, "admin api listening", log.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
