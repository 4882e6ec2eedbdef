package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes FloorChangeEvents to a durable queue.  One connection
// is reused across publishes and redialed after any failure.
type Publisher struct {
	url   string
	queue string

	mutex sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
}

func NewPublisher(url string, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{
		url:   url,
		queue: queue,
	}
}

func (p *Publisher) Queue() string {
	return p.queue
}

// Publish sends one event as a persistent JSON message.  Errors are
// returned so the caller can log and continue.
func (p *Publisher) Publish(ctx context.Context, event FloorChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         event.Kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	glog.V(2).Infof("[queue]published %s space=%d seq=%d\n", event.Kind, event.SpaceID, event.Seq)
	return nil
}

// Close releases the connection.  The publisher may be used again
// afterwards; it redials on the next publish.
func (p *Publisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var err error
	if p.conn != nil {
		err = p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
	return err
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// durable so changes survive broker restarts
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	glog.Infof("[queue]publisher connected, queue %s\n", p.queue)
	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
}
