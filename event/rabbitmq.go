// Package event carries domain events over RabbitMQ. Each message goes to a
// named queue with its action in the x-action header and a JSON body.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roombox-service/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventChannelData is one delivery handed to a listener. The listener
// settles it with Ack or Nack once it has been processed; until then the
// broker keeps it and redelivers it if the connection drops.
type EventChannelData struct {
	Action string
	Data   []byte

	Acknowledger amqp.Acknowledger
	DeliveryTag  uint64
}

func (e EventChannelData) Ack() error {
	if e.Acknowledger == nil {
		return nil
	}
	return e.Acknowledger.Ack(e.DeliveryTag, false)
}

// Nack gives the delivery back to the broker, which queues it again when
// requeue is set and drops or dead-letters it otherwise.
func (e EventChannelData) Nack(requeue bool) error {
	if e.Acknowledger == nil {
		return nil
	}
	return e.Acknowledger.Nack(e.DeliveryTag, false, requeue)
}

type RabbitMQSubscribeListener struct {
	Queue   string
	Channel chan EventChannelData
}

const RabbitMQActionHeader string = "x-action"

var ErrClosed = errors.New("event bus closed")

type Bus struct {
	conn  *amqp.Connection
	log   *zap.Logger
	queue string

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
	done   chan struct{}
}

// RabbitMQURL builds the broker address from RABBITMQ_* settings.
func RabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Default("RABBITMQ_HOST", "localhost"),
		config.Default("RABBITMQ_PORT", "5672"),
	)
}

// RabbitMQConnect dials the broker and declares every queue in queues.
// Publish sends to the first one.
func RabbitMQConnect(url string, log *zap.Logger, queues ...string) (*Bus, error) {
	if len(queues) == 0 {
		return nil, errors.New("rabbitmq: at least one queue is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	log.Info("connection opened to RabbitMQ server")

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	for _, name := range queues {
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare rabbitmq queue %s: %w", name, err)
		}
		log.Info("declared RabbitMQ queue", zap.String("queue", name))
	}

	return &Bus{conn: conn, ch: ch, log: log, queue: queues[0], done: make(chan struct{})}, nil
}

// Publish sends one event. It gives up when ctx expires rather than blocking
// the caller on a slow broker.
func (b *Bus) Publish(ctx context.Context, action string, payload any) error {
	msg, err := Encode(action, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	err = b.ch.PublishWithContext(
		ctx,
		"",      // exchange
		b.queue, // routing key
		false,   // mandatory
		false,   // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", action, err)
	}
	return nil
}

// Encode wraps payload in the wire format shared by every service on the bus.
func Encode(action string, payload any) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s: %w", action, err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			RabbitMQActionHeader: action,
		},
		Body: body,
	}, nil
}

// Subscribe starts one consumer per listener. Deliveries without an action
// header are dropped; the rest are settled by the listener.
func (b *Bus) Subscribe(listeners ...RabbitMQSubscribeListener) error {
	for _, l := range listeners {
		b.mu.Lock()
		msgs, err := b.ch.Consume(
			l.Queue, // queue
			"",      // consumer
			false,   // auto-ack
			false,   // exclusive
			false,   // no-local
			false,   // no-wait
			nil,     // args
		)
		b.mu.Unlock()
		if err != nil {
			return fmt.Errorf("consume %s: %w", l.Queue, err)
		}
		b.log.Info("subscribed to RabbitMQ queue", zap.String("queue", l.Queue))

		go b.forward(l, msgs)
	}
	return nil
}

func (b *Bus) forward(l RabbitMQSubscribeListener, msgs <-chan amqp.Delivery) {
	defer close(l.Channel)
	for msg := range msgs {
		action, _ := msg.Headers[RabbitMQActionHeader].(string)
		if action == "" {
			b.log.Warn("dropping event without action", zap.String("queue", l.Queue))
			_ = msg.Nack(false, false)
			continue
		}
		ev := EventChannelData{
			Action:       action,
			Data:         msg.Body,
			Acknowledger: msg.Acknowledger,
			DeliveryTag:  msg.DeliveryTag,
		}
		select {
		case l.Channel <- ev:
		case <-b.done:
			// unacked, the broker redelivers it once the channel closes
			return
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	_ = b.ch.Close()
	return b.conn.Close()
}
