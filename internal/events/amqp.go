package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	publishQueueSize = 256
	publishTimeout   = 5 * time.Second
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends events to a topic exchange from a single background
// worker. Events are dropped when the queue is full.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string

	mu     sync.Mutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to RabbitMQ, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
}

func NewAMQPPublisher(ctx context.Context, url, exchange string) (*AMQPPublisher, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Info().Str("exchange", exchange).Msg("connected to RabbitMQ")
	p := newAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	p := &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		queue:    make(chan Event, publishQueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	for ev := range p.queue {
		body, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("type", ev.Type).Msg("failed to encode event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.At,
			Body:         body,
		})
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Str("video_id", ev.VideoID).Msg("failed to publish event")
		}
	}
}

func (p *AMQPPublisher) Publish(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Debug().Str("type", ev.Type).Str("video_id", ev.VideoID).Msg("publisher closed, dropping event")
		return
	}
	select {
	case p.queue <- ev:
	default:
		log.Warn().Str("type", ev.Type).Str("video_id", ev.VideoID).Msg("event queue full, dropping event")
	}
}

// Close drains queued events and closes the channel and connection. Events
// published afterwards are dropped.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
