package activitymap

import (
	"context"
	"sort"
	"strings"
	"time"

	signin "github.com/goliatone/go-signin"
)

const (
	// MetadataKeyFromStatus stores the session status before the transition.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the session status after the transition.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "signin"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(signin.ActivityEvent) string
}

// Normalize converts a signin.ActivityEvent into a generic normalized shape.
// The object is the sign in attempt, or the function for remote calls.
func Normalize(event signin.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.IdentityID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType := strings.TrimSpace(options.objectType)
	if event.EventType == signin.ActivityEventRemoteCall && options.objectIDResolver == nil {
		objectType = "function"
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// Fields flattens the record into key/value pairs for structured loggers.
// Metadata keys are emitted in sorted order.
func (n Normalized) Fields() []any {
	fields := []any{"actor_id", n.ActorID, "object_type", n.ObjectType}
	if n.ObjectID != "" {
		fields = append(fields, "object_id", n.ObjectID)
	}

	keys := make([]string, 0, len(n.Metadata))
	for key := range n.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields = append(fields, key, n.Metadata[key])
	}
	return fields
}

// Sink returns an ActivitySink that normalizes each event and hands it to
// fn.
func Sink(fn func(Normalized), opts ...Option) signin.ActivitySink {
	return signin.ActivitySinkFunc(func(_ context.Context, event signin.ActivityEvent) error {
		if fn != nil {
			fn(Normalize(event, opts...))
		}
		return nil
	})
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(signin.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when no identity is attached.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event signin.ActivityEvent, resolver func(signin.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	if event.EventType == signin.ActivityEventRemoteCall {
		function, _ := event.Metadata["function"].(string)
		return strings.TrimSpace(function)
	}
	return strings.TrimSpace(event.AttemptID)
}

func normalizeMetadata(event signin.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if event.FromStatus != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyFromStatus] = string(event.FromStatus)
	}

	if event.ToStatus != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyToStatus] = string(event.ToStatus)
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
