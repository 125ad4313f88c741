// Package consumer reads workout and stats events back from Kafka and routes
// them to typed handlers.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/workoutstats/internal/events"
	"example.com/workoutstats/internal/outbox"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handlers receives decoded events. Each method sees only its own event type.
type Handlers interface {
	WorkoutCompleted(ctx context.Context, env Envelope, evt events.WorkoutCompleted) error
	StatsUpdated(ctx context.Context, env Envelope, evt events.StatsUpdated) error
}

// Envelope is the record metadata that travels alongside a decoded event.
type Envelope struct {
	Topic     string
	Partition int
	Offset    int64
	Received  time.Time
	EventType string
	SchemaID  int
}

var errSkipped = errors.New("event type not routed")

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls records from Kafka, decodes the framed JSON payload and
// hands the typed event to its Handlers.
type Processor struct {
	reader   Reader
	handlers Handlers
	logger   *slog.Logger
}

// NewProcessor constructs a Processor with the provided reader and handlers.
func NewProcessor(reader Reader, handlers Handlers, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handlers: handlers,
		logger:   slog.Default().With("component", "consumer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until the context is cancelled. Records whose
// handler fails are left uncommitted so the group redelivers them; records
// that cannot be decoded or routed are committed and counted.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Error("fetch failed", "error", err)
			continue
		}

		err = p.dispatch(ctx, msg)
		var decodeErr *decodeError
		switch {
		case err == nil:
			recordProcessed(msg.Topic, eventTypeOf(msg))
		case errors.Is(err, errSkipped):
			recordSkipped(msg.Topic, eventTypeOf(msg))
		case errors.As(err, &decodeErr):
			p.logger.Warn("decode failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			recordDecodeError(msg.Topic)
		default:
			p.logger.Error("handler failed", "topic", msg.Topic, "offset", msg.Offset, "event_type", eventTypeOf(msg), "error", err)
			recordHandlerError(msg.Topic, eventTypeOf(msg))
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Error("commit failed", "error", commitErr)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, msg kafka.Message) error {
	env, body, err := unframe(msg)
	if err != nil {
		return err
	}
	tenantID := headerValue(msg, outbox.HeaderTenantID)

	switch env.EventType {
	case events.TypeWorkoutCompleted:
		var evt events.WorkoutCompleted
		if err := decodePayload(body, &evt); err != nil {
			return err
		}
		if evt.TenantID == "" {
			evt.TenantID = tenantID
		}
		if evt.CompletionID == "" || evt.UserID == "" {
			return &decodeError{reason: "workout.completed without completion_id or user_id"}
		}
		return p.handlers.WorkoutCompleted(ctx, env, evt)
	case events.TypeStatsUpdated:
		var evt events.StatsUpdated
		if err := decodePayload(body, &evt); err != nil {
			return err
		}
		if evt.TenantID == "" {
			evt.TenantID = tenantID
		}
		if evt.UserID == "" {
			return &decodeError{reason: "stats.updated without user_id"}
		}
		return p.handlers.StatsUpdated(ctx, env, evt)
	default:
		return errSkipped
	}
}

// decodeError marks records that will never decode, however often they are redelivered.
type decodeError struct {
	reason string
}

func (e *decodeError) Error() string { return e.reason }

func unframe(msg kafka.Message) (Envelope, []byte, error) {
	if len(msg.Value) < 5 {
		return Envelope{}, nil, &decodeError{reason: fmt.Sprintf("invalid payload length: %d", len(msg.Value))}
	}
	if msg.Value[0] != 0 {
		return Envelope{}, nil, &decodeError{reason: fmt.Sprintf("unexpected magic byte %d", msg.Value[0])}
	}
	eventType := headerValue(msg, outbox.HeaderEventType)
	if eventType == "" {
		return Envelope{}, nil, &decodeError{reason: "missing event_type header"}
	}
	return Envelope{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Received:  msg.Time,
		EventType: eventType,
		SchemaID:  int(binary.BigEndian.Uint32(msg.Value[1:5])),
	}, msg.Value[5:], nil
}

func decodePayload(body []byte, into any) error {
	if err := json.Unmarshal(body, into); err != nil {
		return &decodeError{reason: "decode payload: " + err.Error()}
	}
	return nil
}

func eventTypeOf(msg kafka.Message) string {
	if eventType := headerValue(msg, outbox.HeaderEventType); eventType != "" {
		return eventType
	}
	return "unknown"
}

func headerValue(msg kafka.Message, key string) string {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}

// Fanout delivers every event to each handler in order and stops at the first failure.
func Fanout(handlers ...Handlers) Handlers {
	return fanout(handlers)
}

type fanout []Handlers

func (f fanout) WorkoutCompleted(ctx context.Context, env Envelope, evt events.WorkoutCompleted) error {
	for _, h := range f {
		if err := h.WorkoutCompleted(ctx, env, evt); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) StatsUpdated(ctx context.Context, env Envelope, evt events.StatsUpdated) error {
	for _, h := range f {
		if err := h.StatsUpdated(ctx, env, evt); err != nil {
			return err
		}
	}
	return nil
}
