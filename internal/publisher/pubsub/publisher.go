// Package pubsub publishes article events to Google Cloud Pub/Sub wrapped in
// structured-mode CloudEvents.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-forge/internal/forge"
	"github.com/JakeFAU/article-forge/internal/id/uuid"
)

const (
	// DefaultEventType is the CloudEvents type used for stored articles.
	DefaultEventType = "article.published"
	// DefaultSource is the CloudEvents source attribute.
	DefaultSource = "article-forge"

	structuredContentType = "application/cloudevents+json"
)

// Config selects the project, default topic and event attributes.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Source    string `mapstructure:"source"`
	EventType string `mapstructure:"event_type"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Source) == "" {
		c.Source = DefaultSource
	}
	if strings.TrimSpace(c.EventType) == "" {
		c.EventType = DefaultEventType
	}
	return c
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithIDGenerator overrides the event id source.
func WithIDGenerator(ids forge.IDGenerator) Option {
	return func(p *Publisher) {
		p.ids = ids
	}
}

// WithNow overrides the event time source.
func WithNow(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// Publisher implements forge.Publisher. Topic publishers are created lazily
// and reused until Close.
type Publisher struct {
	client *pubsub.Client
	cfg    Config
	ids    forge.IDGenerator
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
}

// New wraps an existing client.
func New(client *pubsub.Client, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		cfg:    cfg.withDefaults(),
		ids:    uuid.New(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
		topics: make(map[string]*pubsub.Publisher),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial creates a client using Application Default Credentials.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Publisher, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, forge.E(forge.KindConfig, "pubsub dial", "project id is required", nil)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, cfg, opts...), nil
}

// Publish wraps payload in a CloudEvent and waits for the server message id.
// An empty topic falls back to the configured default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = p.cfg.Topic
	}
	if topic == "" {
		return "", forge.E(forge.KindConfig, "pubsub publish", "topic is required", nil)
	}

	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("event id: %w", err)
	}
	evt, err := NewEvent(p.cfg, id, p.now(), payload)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"content-type": structuredContentType,
			"ce-type":      evt.Type(),
			"ce-id":        evt.ID(),
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))

	serverID, err := p.publisher(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("event_id", evt.ID()),
		zap.String("message_id", serverID),
	)
	return serverID, nil
}

// Close flushes and stops every topic publisher, then closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, pub := range p.topics {
		pub.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.topics[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.topics[topic] = pub
	}
	return pub
}

// NewEvent builds the CloudEvent for payload. Article events carry the slug
// as subject and their action as an extension attribute.
func NewEvent(cfg Config, id string, at time.Time, payload any) (cloudevents.Event, error) {
	cfg = cfg.withDefaults()
	evt := cloudevents.NewEvent()
	evt.SetID(id)
	evt.SetSource(cfg.Source)
	evt.SetType(cfg.EventType)
	evt.SetTime(at)
	if ae, ok := articleEvent(payload); ok {
		evt.SetSubject(ae.Slug)
		if ae.Action != "" {
			evt.SetExtension("action", ae.Action)
		}
	}
	if err := evt.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encode event data: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return cloudevents.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return evt, nil
}

func articleEvent(payload any) (forge.ArticleEvent, bool) {
	switch v := payload.(type) {
	case forge.ArticleEvent:
		return v, true
	case *forge.ArticleEvent:
		if v != nil {
			return *v, true
		}
	}
	return forge.ArticleEvent{}, false
}
