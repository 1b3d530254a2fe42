package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// ExchangeName is the fanout exchange every replica binds its trigger queue to.
const ExchangeName = "scheduler.trigger"

var ErrClosed = errors.New("trigger publisher closed")

// Publisher requests an out-of-cycle engine tick.
type Publisher interface {
	Publish(ctx context.Context) error
}

// Local fires the in-process engine directly.
type Local struct {
	fire func()
}

func NewLocal(fire func()) *Local {
	return &Local{fire: fire}
}

func (l *Local) Publish(_ context.Context) error {
	if l.fire != nil {
		l.fire()
	}
	return nil
}

// AMQPFanout broadcasts trigger requests to every replica through a fanout exchange. Each replica
// consumes from its own exclusive queue and fires its local engine.
type AMQPFanout struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	fire   func()
	Logger *logger.Logger

	mu     sync.Mutex
	closed bool
}

// DialAMQPFanout connects to url, declares the exchange and binds a private queue to it.
func DialAMQPFanout(url string, fire func(), loggerInstance *logger.Logger) (*AMQPFanout, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to trigger broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open trigger channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		ExchangeName, // name
		"fanout",     // kind
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare trigger exchange: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare trigger queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", ExchangeName, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind trigger queue: %w", err)
	}
	return &AMQPFanout{conn: conn, ch: ch, queue: q.Name, fire: fire, Logger: loggerInstance}, nil
}

// Listen consumes trigger requests until ctx is done or the broker connection drops.
func (a *AMQPFanout) Listen(ctx context.Context) error {
	a.mu.Lock()
	msgs, err := a.ch.Consume(
		a.queue, // queue
		"",      // consumer
		true,    // auto-ack
		true,    // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume trigger queue: %w", err)
	}

	a.Logger.Info("Listening for scheduler triggers", zap.String("exchange", ExchangeName), zap.String("queue", a.queue))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					a.Logger.Warn("Trigger consumer stopped; falling back to periodic ticks only")
					return
				}
				a.Logger.Debug("Received scheduler trigger", zap.String("messageId", d.MessageId))
				a.fire()
			}
		}
	}()
	return nil
}

func (a *AMQPFanout) Publish(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ch.Publish(
		ExchangeName, // exchange
		"",           // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType: "text/plain",
			Timestamp:   time.Now().UTC(),
			Body:        []byte("tick"),
		},
	)
}

func (a *AMQPFanout) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	_ = a.ch.Close()
	return a.conn.Close()
}

// Fallback publishes through primary and fires locally when primary fails, so a broker outage
// never delays a due message past the next periodic tick.
type Fallback struct {
	Primary Publisher
	Local   *Local
	Logger  *logger.Logger
}

func (f *Fallback) Publish(ctx context.Context) error {
	if f.Primary != nil {
		err := f.Primary.Publish(ctx)
		if err == nil {
			return nil
		}
		f.Logger.Warn("Trigger broadcast failed, firing locally", zap.Error(err))
	}
	return f.Local.Publish(ctx)
}
