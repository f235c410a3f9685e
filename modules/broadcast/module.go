package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/realtime-chat-demo/events"
	"github.com/example/realtime-chat-demo/modules/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ViewSource notifies about every change of the chat view model.
type ViewSource interface {
	OnChange(fn func(chat.ViewState))
}

// BroadcastModule is an EventConsumerModule that pushes view changes and chat
// activity to WebSocket clients.
type BroadcastModule struct {
	hub       *Hub
	views     ViewSource
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule that forwards the changes of views.
func NewModule(views ViewSource) *BroadcastModule {
	return &BroadcastModule{
		hub:   NewHub(),
		views: views,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	if m.views != nil {
		m.views.OnChange(m.hub.PublishView)
	}
	log.Println("[broadcast] Module started - WebSocket hub running")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[broadcast] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.SessionJoinedV1, m.handleSessionJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register SessionJoined consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.SessionLeftV1, m.handleSessionLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register SessionLeft consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomSwitchedV1, m.handleRoomSwitched, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomSwitched consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomCreatedV1, m.handleRoomCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers: SessionJoined, SessionLeft, RoomSwitched, RoomCreated, MessageSent")
	return nil
}

// Event handlers

func (m *BroadcastModule) handleSessionJoined(_ context.Context, event events.SessionJoinedEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Broadcasting session joined: %s in room %s", event.Username, event.RoomID)

	m.hub.Broadcast(Activity{
		Kind:      ActivitySessionJoined,
		RoomID:    event.RoomID,
		UserID:    event.UserID,
		Username:  event.Username,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleSessionLeft(_ context.Context, event events.SessionLeftEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Broadcasting session left: %s", event.Username)

	m.hub.Broadcast(Activity{
		Kind:      ActivitySessionLeft,
		RoomID:    event.RoomID,
		UserID:    event.UserID,
		Username:  event.Username,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleRoomSwitched(_ context.Context, event events.RoomSwitchedEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Broadcasting room switch: %s to room %s", event.Username, event.ToRoomID)

	m.hub.Broadcast(Activity{
		Kind:       ActivityRoomSwitched,
		RoomID:     event.ToRoomID,
		FromRoomID: event.FromRoomID,
		UserID:     event.UserID,
		Username:   event.Username,
		Timestamp:  event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleRoomCreated(_ context.Context, event events.RoomCreatedEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Broadcasting room created: %s", event.RoomName)

	m.hub.Broadcast(Activity{
		Kind:      ActivityRoomCreated,
		RoomID:    event.RoomID,
		RoomName:  event.RoomName,
		UserID:    event.CreatedBy,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleMessageSent(_ context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	log.Printf("[broadcast] Broadcasting message from %s in room %s", event.Username, event.RoomID)

	m.hub.Broadcast(Activity{
		Kind:      ActivityMessageSent,
		RoomID:    event.RoomID,
		MessageID: event.MessageID,
		UserID:    event.UserID,
		Username:  event.Username,
		Content:   event.Content,
		Timestamp: event.Timestamp,
	})
	return nil
}

// GetHub returns the WebSocket hub for the API module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// Activity kinds.
const (
	ActivitySessionJoined = "session_joined"
	ActivitySessionLeft   = "session_left"
	ActivityRoomSwitched  = "room_switched"
	ActivityRoomCreated   = "room_created"
	ActivityMessageSent   = "message_sent"
)

// Activity is a chat event as sent to WebSocket clients.
type Activity struct {
	Kind       string    `json:"kind"`
	RoomID     string    `json:"room_id,omitempty"`
	FromRoomID string    `json:"from_room_id,omitempty"`
	RoomName   string    `json:"room_name,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Content    string    `json:"content,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}
