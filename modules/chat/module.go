package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/realtime-chat-demo/events"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// StoreProvider hands out the store once its module has started.
type StoreProvider interface {
	Store() store.Store
}

// Module runs the local chat client and its view model inside the mono
// application, and publishes session activity on the event bus.
type Module struct {
	cfg            Config
	stores         StoreProvider
	storeContainer mono.ServiceContainer
	view           *View
	client         *Client
	eventBus       mono.EventBus
	logger         types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ Publisher                  = (*Module)(nil)
)

// NewModule creates a new chat module. The store is resolved from stores
// when the module starts.
func NewModule(cfg Config, stores StoreProvider, logger types.Logger) *Module {
	cfg = cfg.withDefaults()
	return &Module{
		cfg:    cfg,
		stores: stores,
		view:   NewView(clock.Real(), cfg),
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// Dependencies returns the list of module dependencies. The store module
// starts before this one and stops after it.
func (m *Module) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from
// dependencies. The store itself is handed over by the StoreProvider.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "store":
		m.storeContainer = container
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.SessionJoinedV1.ToBase(),
		events.SessionLeftV1.ToBase(),
		events.RoomSwitchedV1.ToBase(),
		events.RoomCreatedV1.ToBase(),
		events.MessageSentV1.ToBase(),
	}
}

// Start creates the client and begins mirroring the room directory.
func (m *Module) Start(_ context.Context) error {
	s := m.stores.Store()
	if s == nil {
		return errors.New("store dependency not started")
	}

	client, err := NewClient(Deps{
		Store:     s,
		Renderer:  m.view,
		Notifier:  m.view,
		Publisher: m,
		Logger:    m.logger,
		Clock:     clock.Real(),
	}, m.cfg)
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}
	client.Start(context.Background())
	m.client = client

	m.logger.Info("Chat module started",
		"heartbeat", m.cfg.HeartbeatInterval,
		"typingIdle", m.cfg.TypingIdle,
		"sendCooldown", m.cfg.SendCooldown,
		"retentionCap", m.cfg.RetentionCap)
	return nil
}

// Stop leaves the active session and ends every subscription.
func (m *Module) Stop(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Close(ctx); err != nil {
		m.logger.Warn("Failed to leave session on shutdown", "error", err)
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health reports the client state and store connectivity.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.client == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}

	details := map[string]any{
		"state":     m.client.State().String(),
		"connected": m.client.Connected(),
		"rooms":     len(m.client.Directory().Rooms()),
	}
	if s := m.client.Session(); s != nil {
		details["room_id"] = s.RoomID()
	}

	message := "operational"
	if !m.client.Connected() {
		message = "store disconnected"
	}
	return mono.HealthStatus{
		Healthy: m.client.Connected(),
		Message: message,
		Details: details,
	}
}

// Client returns the chat client. It is nil before Start.
func (m *Module) Client() *Client {
	return m.client
}

// View returns the view model rendered by the client.
func (m *Module) View() *View {
	return m.view
}

// PublishSessionJoined publishes a SessionJoined event.
func (m *Module) PublishSessionJoined(ev events.SessionJoinedEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.SessionJoinedV1.Publish(m.eventBus, ev, nil)
}

// PublishSessionLeft publishes a SessionLeft event.
func (m *Module) PublishSessionLeft(ev events.SessionLeftEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.SessionLeftV1.Publish(m.eventBus, ev, nil)
}

// PublishRoomSwitched publishes a RoomSwitched event.
func (m *Module) PublishRoomSwitched(ev events.RoomSwitchedEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.RoomSwitchedV1.Publish(m.eventBus, ev, nil)
}

// PublishRoomCreated publishes a RoomCreated event.
func (m *Module) PublishRoomCreated(ev events.RoomCreatedEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.RoomCreatedV1.Publish(m.eventBus, ev, nil)
}

// PublishMessageSent publishes a MessageSent event.
func (m *Module) PublishMessageSent(ev events.MessageSentEvent) error {
	if m.eventBus == nil {
		return nil
	}
	return events.MessageSentV1.Publish(m.eventBus, ev, nil)
}
