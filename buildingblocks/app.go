package buildingblocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/runtime"
)

var (
	// ErrLoggerNil is returned when the launcher has no logger.
	ErrLoggerNil = errors.New("logger is nil")
	// ErrNilLauncher is returned when a launcher method is called on a nil receiver.
	ErrNilLauncher = errors.New("launcher is nil")
	// ErrEmptyApp is returned when an app name is empty or whitespace.
	ErrEmptyApp = errors.New("app name is empty")
	// ErrNilApp is returned when a nil app instance is provided.
	ErrNilApp = errors.New("app is nil")
	// ErrConfigFailed is returned when launcher option application collected errors.
	ErrConfigFailed = errors.New("launcher configuration failed")
)

// App is a long-lived component run by a Launcher: the outbox dispatcher,
// the trace queue drain loop, a broker consumer.
type App interface {
	Run(launcher *Launcher) error
}

// AppFunc adapts a plain function to App.
type AppFunc func(launcher *Launcher) error

// Run calls f.
func (f AppFunc) Run(launcher *Launcher) error {
	return f(launcher)
}

// LauncherOption configures a Launcher.
type LauncherOption func(l *Launcher)

// WithLogger sets the launcher logger.
func WithLogger(logger log.Logger) LauncherOption {
	return func(l *Launcher) {
		l.Logger = logger
	}
}

// WithContext sets the context handed to apps through Launcher.Context.
func WithContext(ctx context.Context) LauncherOption {
	return func(l *Launcher) {
		if ctx != nil {
			l.ctx = ctx
		}
	}
}

// RunApp registers an application. Registration errors surface from RunWithError.
func RunApp(name string, app App) LauncherOption {
	return func(l *Launcher) {
		if err := l.Add(name, app); err != nil {
			l.configErrors = append(l.configErrors, fmt.Errorf("add app %q: %w", name, err))
		}
	}
}

// Launcher runs every registered App in its own goroutine and waits for all
// of them to return.
type Launcher struct {
	Logger       log.Logger
	ctx          context.Context
	apps         map[string]App
	order        []string
	wg           sync.WaitGroup
	mu           sync.Mutex
	errs         []error
	configErrors []error
}

// NewLauncher creates a Launcher and applies opts in order.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		ctx:  context.Background(),
		apps: make(map[string]App),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	return l
}

// Context returns the launcher context. Apps should stop when it is done.
func (l *Launcher) Context() context.Context {
	if l == nil || l.ctx == nil {
		return context.Background()
	}

	return l.ctx
}

// Add registers an application under appName.
func (l *Launcher) Add(appName string, a App) error {
	if l == nil {
		return ErrNilLauncher
	}

	if l.apps == nil {
		l.apps = make(map[string]App)
	}

	if strings.TrimSpace(appName) == "" {
		return ErrEmptyApp
	}

	if a == nil {
		return ErrNilApp
	}

	if _, exists := l.apps[appName]; !exists {
		l.order = append(l.order, appName)
	}

	l.apps[appName] = a

	return nil
}

// RunWithError starts all apps and blocks until each one returns. App errors
// are logged and joined into the returned error.
func (l *Launcher) RunWithError() error {
	if l == nil {
		return ErrNilLauncher
	}

	if l.Logger == nil {
		return ErrLoggerNil
	}

	if len(l.configErrors) > 0 {
		return errors.Join(append([]error{ErrConfigFailed}, l.configErrors...)...)
	}

	ctx := l.Context()

	l.Logger.Log(ctx, log.LevelInfo, "starting apps", log.Int("count", len(l.order)))

	for _, name := range l.order {
		app := l.apps[name]

		l.wg.Add(1)

		runtime.SafeGoWithContext(ctx, l.Logger, "launcher", "run_app_"+name, func(ctx context.Context) {
			defer l.wg.Done()

			l.Logger.Log(ctx, log.LevelInfo, "app starting", log.String("app", name))

			if err := app.Run(l); err != nil {
				l.Logger.Log(ctx, log.LevelError, "app error", log.String("app", name), log.Err(err))
				l.recordError(fmt.Errorf("app %q: %w", name, err))
			}

			l.Logger.Log(ctx, log.LevelInfo, "app finished", log.String("app", name))
		})
	}

	l.wg.Wait()

	l.Logger.Log(ctx, log.LevelInfo, "launcher terminated")

	l.mu.Lock()
	defer l.mu.Unlock()

	return errors.Join(l.errs...)
}

// Run is RunWithError with the error logged instead of returned.
func (l *Launcher) Run() {
	if err := l.RunWithError(); err != nil && l != nil && l.Logger != nil {
		l.Logger.Log(l.Context(), log.LevelError, "launcher error", log.Err(err))
	}
}

func (l *Launcher) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errs = append(l.errs, err)
}
