package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-church-auth"
)

// Severity ranks audit records for review.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
)

const (
	defaultChannel = "admin"
	anonymousActor = "anonymous"
)

// metadata keys lifted out of Details into Record fields
const (
	keyReason = "reason"
	keyTarget = "target_user_id"
	keyEmail  = "email"
)

// Record is the audit form of a session event.
type Record struct {
	EventID    string         `json:"event_id,omitempty"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Target     string         `json:"target,omitempty"`
	Channel    string         `json:"channel"`
	Transition string         `json:"transition,omitempty"`
	Severity   Severity       `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

// Option customizes normalization.
type Option func(*options)

type options struct {
	channel string
	now     func() time.Time
}

// WithChannel tags records with the surface that produced them.
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

// WithClock stamps events that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Normalize turns a session event into an audit record.
//
// The actor is the signed in user, or the attempted email for a failed
// login. Account deactivation targets the deactivated account; every other
// event targets the actor's own session.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{channel: defaultChannel, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rec := Record{
		EventID:  event.ID,
		Actor:    actorFor(event),
		Action:   strings.TrimPrefix(string(event.EventType), "session."),
		Channel:  o.channel,
		Severity: SeverityFor(event.EventType),
		Reason:   stringField(event.Metadata, keyReason),
		Details:  details(event.Metadata),
		At:       event.OccurredAt,
	}

	if target := stringField(event.Metadata, keyTarget); target != "" {
		rec.Target = target
	} else {
		rec.Target = strings.TrimSpace(event.UserID)
	}

	if event.FromStatus != "" && event.ToStatus != "" && event.FromStatus != event.ToStatus {
		rec.Transition = string(event.FromStatus) + "->" + string(event.ToStatus)
	}

	if rec.At.IsZero() {
		rec.At = o.now().UTC()
	}

	return rec
}

// SeverityFor ranks an event type.
func SeverityFor(eventType auth.ActivityEventType) Severity {
	switch eventType {
	case auth.ActivityEventLoginFailure, auth.ActivityEventInvalidated:
		return SeverityWarning
	case auth.ActivityEventPasswordChanged, auth.ActivityEventAccountDeactivate:
		return SeverityNotice
	default:
		return SeverityInfo
	}
}

// Sink adapts a record writer to auth.ActivitySink.
func Sink(write func(context.Context, Record) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if write == nil {
			return nil
		}
		return write(ctx, Normalize(event, opts...))
	})
}

func actorFor(event auth.ActivityEvent) string {
	if id := strings.TrimSpace(event.UserID); id != "" {
		return id
	}
	if email := stringField(event.Metadata, keyEmail); email != "" {
		return strings.ToLower(email)
	}
	return anonymousActor
}

func stringField(metadata map[string]any, key string) string {
	v, _ := metadata[key].(string)
	return strings.TrimSpace(v)
}

func details(metadata map[string]any) map[string]any {
	var out map[string]any
	for key, value := range metadata {
		if key == keyReason || key == keyTarget {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(metadata))
		}
		out[key] = value
	}
	return out
}
