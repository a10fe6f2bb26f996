// Package queue carries domain events over RabbitMQ: a publisher that the
// booking engine notifies after every committed change, and a consumer that
// appends each event to an audit log.
package queue

import (
    "encoding/json"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/babyfoot-reservation/internal/booking"
)

// ReservationEvent is the message body published for every booking.Event.
// Times are RFC3339 in UTC so consumers need no Go-specific decoding.
type ReservationEvent struct {
    Type           string   `json:"type"`
    ReservationID  uint64   `json:"reservation_id,omitempty"`
    TableID        uint64   `json:"table_id"`
    StartTime      string   `json:"start_time"`
    Status         string   `json:"status,omitempty"`
    QueuePosition  int      `json:"queue_position,omitempty"`
    Players        []uint64 `json:"players,omitempty"`
    FinalScoreRed  *int     `json:"final_score_red,omitempty"`
    FinalScoreBlue *int     `json:"final_score_blue,omitempty"`
    ActorID        uint64   `json:"actor_id,omitempty"`
    OccurredAt     string   `json:"occurred_at"`
}

// FromBooking converts an engine event into its wire form.
func FromBooking(ev booking.Event) ReservationEvent {
    return ReservationEvent{
        Type:           string(ev.Type),
        ReservationID:  ev.ReservationID,
        TableID:        ev.TableID,
        StartTime:      ev.StartTime.UTC().Format(time.RFC3339),
        Status:         string(ev.Status),
        QueuePosition:  ev.Position,
        Players:        ev.Participants.Players(),
        FinalScoreRed:  ev.FinalScoreRed,
        FinalScoreBlue: ev.FinalScoreBlue,
        ActorID:        ev.ActorID,
        OccurredAt:     ev.OccurredAt.UTC().Format(time.RFC3339Nano),
    }
}

// Decode parses a message body.
func Decode(body []byte) (ReservationEvent, error) {
    var ev ReservationEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return ReservationEvent{}, fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return ReservationEvent{}, fmt.Errorf("event without type")
    }
    return ev, nil
}

// Line renders the event as one human-friendly log line, newline included.
func (ev ReservationEvent) Line() string {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | table_id=%d | start=%s", ev.OccurredAt, ev.Type, ev.TableID, ev.StartTime)
    if ev.ReservationID != 0 {
        fmt.Fprintf(&b, " | reservation_id=%d", ev.ReservationID)
    }
    if ev.Status != "" {
        fmt.Fprintf(&b, " | status=%s", ev.Status)
    }
    if ev.QueuePosition > 0 {
        fmt.Fprintf(&b, " | position=%d", ev.QueuePosition)
    }
    if len(ev.Players) > 0 {
        ids := make([]string, len(ev.Players))
        for i, id := range ev.Players {
            ids[i] = fmt.Sprint(id)
        }
        fmt.Fprintf(&b, " | players=[%s]", strings.Join(ids, ","))
    }
    if ev.FinalScoreRed != nil && ev.FinalScoreBlue != nil {
        fmt.Fprintf(&b, " | score=%d-%d", *ev.FinalScoreRed, *ev.FinalScoreBlue)
    }
    if ev.ActorID != 0 {
        fmt.Fprintf(&b, " | actor_id=%d", ev.ActorID)
    }
    b.WriteByte('\n')
    return b.String()
}
