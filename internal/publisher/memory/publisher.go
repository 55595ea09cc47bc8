// Package memory records published events in process. Used by tests and by
// the development profile when Pub/Sub is disabled.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/article-forge/internal/forge"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements forge.Publisher.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// ArticleEvents returns the recorded article events in publish order.
func (p *Publisher) ArticleEvents() []forge.ArticleEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []forge.ArticleEvent
	for _, m := range p.messages {
		switch v := m.Payload.(type) {
		case forge.ArticleEvent:
			out = append(out, v)
		case *forge.ArticleEvent:
			out = append(out, *v)
		}
	}
	return out
}
