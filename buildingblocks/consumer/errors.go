package consumer

import "errors"

var (
	// ErrMessageRequired is returned for a nil message.
	ErrMessageRequired = errors.New("consumer message is required")
	// ErrEventNameRequired is returned when registering without an event name.
	ErrEventNameRequired = errors.New("event name is required")
	// ErrHandlerNameRequired is returned when registering without a handler name.
	ErrHandlerNameRequired = errors.New("handler name is required")
	// ErrHandlerRequired is returned when registering a nil handler.
	ErrHandlerRequired = errors.New("handler is required")
	// ErrHandlerAlreadyRegistered is returned for a duplicate (event, handler) pair.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for event")
	// ErrRouterRequired is returned when a nil router is used.
	ErrRouterRequired = errors.New("consumer router is required")
	// ErrHandlerPanicked is returned when a handler panics.
	ErrHandlerPanicked = errors.New("handler panicked")
)
