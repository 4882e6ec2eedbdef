package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
	amqp "github.com/rabbitmq/amqp091-go"
)

const maxTailBackoff = 30 * time.Second

// Tail consumes the change queue and writes one line per change to out.
// It reconnects with backoff until ctx ends, then returns ctx.Err().
func Tail(ctx context.Context, url string, queue string, out io.Writer) error {
	if queue == "" {
		queue = DefaultQueueName
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			glog.Infof("[queue]tail: failed to dial broker: %v; retrying in %s\n", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(2*backoff, maxTailBackoff)
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queue, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Infof("[queue]tail: consume loop ended: %v; reconnecting\n", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue string, out io.Writer) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		glog.Infof("[queue]tail: set QoS failed: %v\n", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(d.Body, out); err != nil {
				glog.Warningf("[queue]tail: handle message failed: %v\n", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(body []byte, out io.Writer) error {
	var ev FloorChangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if _, err := io.WriteString(out, FormatLine(ev)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// FormatLine renders a change as a single human-friendly line.
func FormatLine(ev FloorChangeEvent) string {
	parts := []string{
		fmt.Sprintf("[%s] %s", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Kind),
		fmt.Sprintf("space_id=%d", ev.SpaceID),
		fmt.Sprintf("seq=%d", ev.Seq),
	}
	switch {
	case ev.Unit != nil:
		if ev.Unit.TableID != 0 {
			parts = append(parts, fmt.Sprintf("table_id=%d", ev.Unit.TableID))
		}
		if ev.Unit.ChairID != 0 {
			parts = append(parts, fmt.Sprintf("chair_id=%d", ev.Unit.ChairID))
		}
		parts = append(parts, fmt.Sprintf("status=%s", ev.Unit.Status))
	case ev.TableID != 0 || ev.ChairID != 0:
		if ev.TableID != 0 {
			parts = append(parts, fmt.Sprintf("table_id=%d", ev.TableID))
		}
		if ev.ChairID != 0 {
			parts = append(parts, fmt.Sprintf("chair_id=%d", ev.ChairID))
		}
	}
	parts = append(parts, fmt.Sprintf("units=%d", ev.UnitCount))
	return strings.Join(parts, " | ") + "\n"
}
