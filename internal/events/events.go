package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	EventChainCreated  EventType = "chain.created"
	EventChainUpdated  EventType = "chain.updated"
	EventChainDeleted  EventType = "chain.deleted"
	EventOfferResolved EventType = "offer.resolved"
)

// Event represents an event in the system.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      any
}

// ChainData is attached to chain lifecycle events.
type ChainData struct {
	ChainID int64
	Title   string
	BrandID int64
	ActorID string
}

// OfferResolvedData is attached to offer.resolved events.
type OfferResolvedData struct {
	ChainID       int64
	SourceOfferID int64
	NextOfferID   int64
	Found         bool
	AvailableAt   *time.Time
	ClientOfferID int64
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every handler of eventType in its own goroutine. Handlers get
// a context that outlives the request that published the event.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				m.logger.Error("event handler failed",
					"event_id", event.ID,
					"event_type", string(event.Type),
					"error", err,
				)
			}
		}(handler)
	}
}

// PublishChain publishes a chain lifecycle event.
func (m *Manager) PublishChain(ctx context.Context, eventType EventType, data ChainData) {
	m.Publish(ctx, eventType, data)
}

// PublishOfferResolved publishes the outcome of a next-offer resolution.
func (m *Manager) PublishOfferResolved(ctx context.Context, data OfferResolvedData) {
	m.Publish(ctx, EventOfferResolved, data)
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}

// AuditLogger returns a handler that writes one log line per event.
func AuditLogger(logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		attrs := []any{
			"event_id", event.ID,
			"event_type", string(event.Type),
		}
		switch d := event.Data.(type) {
		case ChainData:
			attrs = append(attrs, "chain_id", d.ChainID, "title", d.Title, "brand_id", d.BrandID, "actor", d.ActorID)
		case OfferResolvedData:
			attrs = append(attrs, "chain_id", d.ChainID, "source_offer_id", d.SourceOfferID, "found", d.Found)
			if d.Found {
				attrs = append(attrs, "next_offer_id", d.NextOfferID)
			}
			if d.ClientOfferID != 0 {
				attrs = append(attrs, "client_offer_id", d.ClientOfferID)
			}
		}
		logger.InfoContext(ctx, "audit", attrs...)
		return nil
	}
}

// SubscribeAudit attaches the audit logger to every event type.
func (m *Manager) SubscribeAudit(logger *slog.Logger) {
	h := AuditLogger(logger)
	for _, t := range []EventType{EventChainCreated, EventChainUpdated, EventChainDeleted, EventOfferResolved} {
		m.Subscribe(t, h)
	}
}
