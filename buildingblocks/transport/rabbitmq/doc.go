// Package rabbitmq carries integration events over AMQP 0-9-1: a confirm
// publisher the outbox dispatcher hands rows to, and a consumer that feeds
// deliveries through a consumer.Router.
package rabbitmq
