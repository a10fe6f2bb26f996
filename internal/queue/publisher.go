package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"
    amqp "github.com/rabbitmq/amqp091-go"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
)

// Publisher sends events to a durable queue through the default exchange.
// It implements booking.Notifier: failures are logged, never returned to
// the engine, because the change they describe is already committed.
type Publisher struct {
    URL     string
    Queue   string
    Timeout time.Duration
    Log     log.FieldLogger
}

// NewPublisher returns a publisher for queue at url.
func NewPublisher(url, queue string, logger log.FieldLogger) *Publisher {
    if logger == nil {
        logger = log.StandardLogger()
    }
    return &Publisher{URL: url, Queue: queue, Timeout: 5 * time.Second, Log: logger}
}

// Notify publishes ev, bounded by the publisher timeout.  The request's
// cancellation does not abort the publish.
func (p *Publisher) Notify(ctx context.Context, ev booking.Event) {
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
    defer cancel()
    if err := p.Publish(ctx, FromBooking(ev)); err != nil {
        p.Log.WithError(err).WithFields(log.Fields{
            "event":          ev.Type,
            "reservation_id": ev.ReservationID,
        }).Warn("rabbitmq: publish failed")
    }
}

// Publish dials the broker, declares the queue and publishes one message.
// The TCP dial and the AMQP handshake share ctx's deadline, or the
// publisher timeout when ctx has none.
func (p *Publisher) Publish(ctx context.Context, ev ReservationEvent) error {
    conn, err := dial(ctx, p.URL, p.Timeout)
    if err != nil {
        return fmt.Errorf("dial: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if _, err := declareQueue(ch, p.Queue); err != nil {
        return err
    }
    msg, err := newPublishing(ev)
    if err != nil {
        return err
    }
    if err := ch.PublishWithContext(ctx,
        "",      // default exchange
        p.Queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        msg,
    ); err != nil {
        return fmt.Errorf("publish: %w", err)
    }
    return nil
}

// dial connects with a handshake bounded by ctx, or by fallback when ctx
// carries no deadline.
func dial(ctx context.Context, url string, fallback time.Duration) (*amqp.Connection, error) {
    timeout := fallback
    if deadline, ok := ctx.Deadline(); ok {
        timeout = time.Until(deadline)
    }
    if timeout <= 0 {
        if err := ctx.Err(); err != nil {
            return nil, err
        }
        timeout = 30 * time.Second
    }
    return amqp.DialConfig(url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(timeout),
    })
}

func newPublishing(ev ReservationEvent) (amqp.Publishing, error) {
    body, err := json.Marshal(ev)
    if err != nil {
        return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
    }
    return amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    uuid.NewString(),
        Type:         ev.Type,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }, nil
}

// declareQueue declares the durable event queue (idempotent).
func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
    q, err := ch.QueueDeclare(
        name,  // name
        true,  // durable
        false, // autoDelete
        false, // exclusive
        false, // noWait
        nil,   // args
    )
    if err != nil {
        return amqp.Queue{}, fmt.Errorf("queue declare: %w", err)
    }
    return q, nil
}
