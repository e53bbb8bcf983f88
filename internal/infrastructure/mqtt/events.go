package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

// eventPayload is the JSON body of gatekeeper/session/{user_id}/{event}.
type eventPayload struct {
	Event       string `json:"event"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
	Fingerprint string `json:"token_fingerprint,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// shutdownPayload is the JSON body of gatekeeper/system/shutdown.
type shutdownPayload struct {
	Mode      string `json:"mode"`
	ClientID  string `json:"client_id"`
	Timestamp string `json:"timestamp"`
}

// EventPublisher forwards session events to the broker.
//
// SessionEvent never blocks: events are queued and published by a single
// worker goroutine. When the queue is full the event is dropped and
// counted.
type EventPublisher struct {
	client *Client
	queue  chan auth.SessionEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewEventPublisher starts the publishing worker. Call Close to stop it.
func NewEventPublisher(c *Client) *EventPublisher {
	p := &EventPublisher{
		client: c,
		queue:  make(chan auth.SessionEvent, eventQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// SessionEvent implements auth.Observer.
func (p *EventPublisher) SessionEvent(ev auth.SessionEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		if logger := p.client.getLogger(); logger != nil {
			logger.Warn("session event dropped, publish queue full",
				"event", string(ev.Kind),
				"user_id", ev.UserID,
			)
		}
	}
}

// Dropped returns how many events were discarded because the queue was
// full. A nil publisher reports zero.
func (p *EventPublisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.publish(ev); err != nil {
			if logger := p.client.getLogger(); logger != nil {
				logger.Warn("session event publish failed",
					"event", string(ev.Kind),
					"user_id", ev.UserID,
					"error", err,
				)
			}
		}
	}
}

func (p *EventPublisher) publish(ev auth.SessionEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(eventPayload{
		Event:       string(ev.Kind),
		UserID:      ev.UserID,
		Username:    ev.Username,
		Fingerprint: ev.Fingerprint,
		Timestamp:   at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding session event: %w", err)
	}
	return p.client.PublishDefault(Topics{}.Session(ev.UserID, string(ev.Kind)), payload)
}

// Shutdown announces a shutdown request on gatekeeper/system/shutdown.
// It publishes synchronously so the notice precedes the offline status.
func (p *EventPublisher) Shutdown(mode shutdown.Mode) error {
	payload, err := json.Marshal(shutdownPayload{
		Mode:      mode.String(),
		ClientID:  p.client.cfg.Broker.ClientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding shutdown notice: %w", err)
	}
	return p.client.PublishDefault(Topics{}.SystemShutdown(), payload)
}

// Close stops accepting events and waits for queued ones to be published.
// It is safe to call more than once.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}
