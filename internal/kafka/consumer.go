package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     zerolog.Logger

	attempts   int // per message, including the first
	retryDelay time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log.With().Str("topic", topic).Str("group", group).Logger())
}

func newConsumer(r messageReader, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, attempts: 3, retryDelay: 200 * time.Millisecond}
}

// Start fans messages out to the worker pool until ctx ends or the reader
// fails. A message is retried in place a few times. After that it is
// left uncommitted, but the group offset moves past it as soon as a later
// message on the same partition commits, so handlers must tolerate losing it.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, h, m); err != nil {
					c.log.Error().Err(err).Int("worker", id).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("giving up on message")
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error().Err(err).Int64("offset", m.Offset).Msg("commit offset")
				}
			}
		}(i)
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		if attempt >= c.attempts || ctx.Err() != nil {
			return err
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Int64("offset", m.Offset).Msg("handle message")
		backoff(ctx, time.Duration(attempt)*c.retryDelay)
	}
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
