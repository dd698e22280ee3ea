package rabbitmq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeConfirmChannel acks or nacks each publish according to ack, or stays
// silent when silent is set.
type fakeConfirmChannel struct {
	mu         sync.Mutex
	confirms   chan amqp.Confirmation
	closes     chan *amqp.Error
	published  []published
	ack        bool
	silent     bool
	publishErr error
	confirmErr error
	closed     bool
	tag        uint64
}

func newFakeConfirmChannel() *fakeConfirmChannel {
	return &fakeConfirmChannel{ack: true}
}

func (f *fakeConfirmChannel) Confirm(bool) error { return f.confirmErr }

func (f *fakeConfirmChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeConfirmChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.closes = c
	return c
}

func (f *fakeConfirmChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	f.tag++

	if !f.silent {
		f.confirms <- amqp.Confirmation{DeliveryTag: f.tag, Ack: f.ack}
	}

	return nil
}

func (f *fakeConfirmChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeConfirmChannel) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.published...)
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acks = append(a.acks, tag)

	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)

	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) snapshot() (acks, nacks []uint64, requeue []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]uint64(nil), a.acks...), append([]uint64(nil), a.nacks...), append([]bool(nil), a.requeue...)
}

type fakeConsumeChannel struct {
	deliveries chan amqp.Delivery
	qosErr     error
	prefetch   int
	queue      string
}

func (f *fakeConsumeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return f.qosErr
}

func (f *fakeConsumeChannel) ConsumeWithContext(_ context.Context, queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.queue = queue
	if f.deliveries == nil {
		return nil, errors.New("no deliveries")
	}

	return f.deliveries, nil
}

func (f *fakeConsumeChannel) Close() error { return nil }

type declared struct {
	kind string
	name string
	arg  string
	args amqp.Table
}

type fakeTopologyChannel struct {
	calls   []declared
	failOn  string
	failErr error
}

func (f *fakeTopologyChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, args amqp.Table) error {
	f.calls = append(f.calls, declared{kind: "exchange", name: name, arg: kind, args: args})
	if f.failOn == "exchange:"+name {
		return f.failErr
	}

	return nil
}

func (f *fakeTopologyChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, declared{kind: "queue", name: name, args: args})
	if f.failOn == "queue:"+name {
		return amqp.Queue{}, f.failErr
	}

	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopologyChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, declared{kind: "bind", name: name, arg: exchange + "/" + key})
	return nil
}
