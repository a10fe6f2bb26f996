package queue

import (
    "context"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/cenkalti/backoff/v4"
    amqp "github.com/rabbitmq/amqp091-go"
    log "github.com/sirupsen/logrus"
)

// Handler processes one decoded event.  A returned error rejects the
// message without requeueing it.
type Handler func(ctx context.Context, ev ReservationEvent) error

// Consumer reads the event queue and hands every message to its handlers.
type Consumer struct {
    URL      string
    Queue    string
    Prefetch int
    Handlers []Handler
    Log      log.FieldLogger
}

// Run consumes until ctx is cancelled, reconnecting with exponential
// backoff whenever the broker connection is lost.
func (c *Consumer) Run(ctx context.Context) error {
    logger := c.Log
    if logger == nil {
        logger = log.StandardLogger()
    }
    eb := backoff.NewExponentialBackOff()
    eb.InitialInterval = time.Second
    eb.MaxInterval = 30 * time.Second
    eb.MaxElapsedTime = 0
    b := backoff.WithContext(eb, ctx)

    for {
        conn, err := dial(ctx, c.URL, 10*time.Second)
        if err == nil {
            b.Reset()
            err = c.consume(ctx, conn, logger)
            _ = conn.Close()
            if ctx.Err() != nil {
                return nil
            }
        }
        wait := b.NextBackOff()
        if wait == backoff.Stop {
            return nil
        }
        logger.WithError(err).Warnf("event-consumer: broker unavailable, retrying in %s", wait)
        select {
        case <-ctx.Done():
            return nil
        case <-time.After(wait):
        }
    }
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, logger log.FieldLogger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    prefetch := c.Prefetch
    if prefetch <= 0 {
        prefetch = 50
    }
    if err := ch.Qos(prefetch, 0, false); err != nil {
        logger.WithError(err).Warn("event-consumer: set QoS failed")
    }
    if _, err := declareQueue(ch, c.Queue); err != nil {
        return err
    }
    msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
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
            if err := c.handle(ctx, d.Body); err != nil {
                logger.WithError(err).WithField("message_id", d.MessageId).Error("event-consumer: handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
    ev, err := Decode(body)
    if err != nil {
        return err
    }
    for _, h := range c.Handlers {
        if err := h(ctx, ev); err != nil {
            return err
        }
    }
    return nil
}

// FileLog appends event lines to a file, creating its folder on demand.
type FileLog struct {
    Path string
    mu   sync.Mutex
}

// Handle is a Handler writing ev.Line() to the file.
func (f *FileLog) Handle(_ context.Context, ev ReservationEvent) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer file.Close()
    if _, err := file.WriteString(ev.Line()); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}
