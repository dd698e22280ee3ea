package rabbitmq

import "errors"

var (
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrChannelOpenerRequired  = errors.New("rabbitmq channel opener is required")
	ErrExchangeRequired       = errors.New("rabbitmq exchange is required")
	ErrQueueRequired          = errors.New("rabbitmq queue is required")
	ErrDispatcherRequired     = errors.New("message dispatcher is required")
	ErrPublisherRequired      = errors.New("rabbitmq publisher is required")
	ErrConsumerRequired       = errors.New("rabbitmq consumer is required")
	ErrEventRequired          = errors.New("outbox event is required")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
	ErrPublisherClosed        = errors.New("publisher is closed")
	ErrCircuitOpen            = errors.New("broker circuit breaker is open")
	ErrDeliveriesClosed       = errors.New("delivery channel closed by broker")
	ErrConsumerRunning        = errors.New("rabbitmq consumer already running")
)
