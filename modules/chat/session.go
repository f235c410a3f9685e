package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/events"
	"github.com/example/realtime-chat-demo/internal/clock"
	"github.com/example/realtime-chat-demo/modules/store"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Publisher announces session activity to the rest of the application.
type Publisher interface {
	PublishSessionJoined(events.SessionJoinedEvent) error
	PublishSessionLeft(events.SessionLeftEvent) error
	PublishRoomSwitched(events.RoomSwitchedEvent) error
	PublishRoomCreated(events.RoomCreatedEvent) error
	PublishMessageSent(events.MessageSentEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishSessionJoined(events.SessionJoinedEvent) error { return nil }
func (nopPublisher) PublishSessionLeft(events.SessionLeftEvent) error     { return nil }
func (nopPublisher) PublishRoomSwitched(events.RoomSwitchedEvent) error   { return nil }
func (nopPublisher) PublishRoomCreated(events.RoomCreatedEvent) error     { return nil }
func (nopPublisher) PublishMessageSent(events.MessageSentEvent) error     { return nil }

// Deps are the collaborators of a Client. Store and Logger are required;
// the others default to no-ops and the real clock.
type Deps struct {
	Store     store.Store
	Renderer  Renderer
	Notifier  Notifier
	Publisher Publisher
	Logger    types.Logger
	Clock     clock.Clock
}

// JoinRequest is what the join screen submits.
type JoinRequest struct {
	Name        string
	RoomID      string
	AvatarSeed  string
	AvatarStyle string
}

// Client is one chat participant. It holds at most one Session at a time.
type Client struct {
	cfg       Config
	store     store.Store
	renderer  Renderer
	notifier  Notifier
	publisher Publisher
	logger    types.Logger
	clock     clock.Clock
	newSeed   func() string
	directory *Directory
	connected atomic.Bool

	mu      sync.Mutex
	state   State
	session *Session
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewClient creates a disconnected client.
func NewClient(deps Deps, cfg Config) (*Client, error) {
	if deps.Store == nil {
		return nil, errors.New("chat client requires a store")
	}
	if deps.Logger == nil {
		return nil, errors.New("chat client requires a logger")
	}
	if deps.Renderer == nil {
		deps.Renderer = NopRenderer{}
	}
	if deps.Notifier == nil {
		deps.Notifier = NopRenderer{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	newSeed, err := nanoid.Standard(10)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar seed generator: %w", err)
	}

	return &Client{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		clock:     deps.Clock,
		newSeed:   newSeed,
		directory: NewDirectory(deps.Store, deps.Renderer, deps.Notifier, deps.Logger, deps.Clock),
	}, nil
}

// Start begins mirroring the room directory and the store connectivity.
// Calling it again while running only restarts a directory whose
// subscription failed.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.started = true
		c.ctx, c.cancel = context.WithCancel(ctx)
		go c.watchConnection(c.ctx)
	}
	c.directory.Start(c.ctx)
}

func (c *Client) watchConnection(ctx context.Context) {
	for connected := range c.store.WatchConnection(ctx) {
		c.connected.Store(connected)
		c.renderer.RenderConnection(connected)
	}
}

// Close leaves the active session, if any, and stops the directory. A
// closed client can be started and joined again.
func (c *Client) Close(ctx context.Context) error {
	var err error
	if s := c.Session(); s != nil {
		err = s.Leave(ctx)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.directory.Stop()
	return err
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connected reports the last connectivity signal of the store.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Directory returns the room directory.
func (c *Client) Directory() *Directory {
	return c.directory
}

// Rooms lists the rooms once the directory has loaded.
func (c *Client) Rooms(ctx context.Context) ([]RoomSummary, error) {
	c.Start(context.Background())
	if err := c.directory.WaitReady(ctx); err != nil {
		return nil, err
	}
	return c.directory.Rooms(), nil
}

// Join validates the requested identity, registers the user and enters the
// requested room, or general when none or an unknown room is given. Name
// validation and the uniqueness check run before anything is written.
func (c *Client) Join(ctx context.Context, req JoinRequest) (*Session, error) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	c.state = StateJoining
	c.mu.Unlock()

	s, err := c.join(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		return nil, err
	}
	c.state = StateActive
	c.session = s
	return s, nil
}

func (c *Client) join(ctx context.Context, req JoinRequest) (*Session, error) {
	name, err := domain.ValidateUsername(req.Name)
	if err != nil {
		return nil, c.fieldError("username", err)
	}
	style, err := domain.ParseAvatarStyle(req.AvatarStyle)
	if err != nil {
		return nil, c.fieldError("avatar", err)
	}
	if err := c.checkNameFree(ctx, name, ""); err != nil {
		return nil, err
	}

	c.Start(context.Background())
	if err := c.directory.WaitReady(ctx); err != nil {
		return nil, err
	}

	seed := req.AvatarSeed
	if seed == "" {
		seed = c.newSeed()
	}
	now := c.clock.Now()
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		AvatarSeed:   seed,
		AvatarStyle:  style,
		LastActiveAt: domain.MillisOf(now),
	}
	if err := c.store.Set(ctx, domain.UserPath(user.ID), user); err != nil {
		c.logger.Error("Failed to register user", "error", err)
		c.notifier.Alert("Failed to join: " + err.Error())
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s := newSession(c, user)
	roomID := req.RoomID
	if _, ok := c.directory.Room(roomID); !ok {
		roomID = domain.DefaultRoomID
	}
	if err := s.JoinRoom(ctx, roomID); err != nil {
		s.shutdown()
		c.removeUser(user.ID)
		return nil, err
	}
	s.startHeartbeat()

	c.renderer.RenderSession(&user)
	if err := c.publisher.PublishSessionJoined(events.SessionJoinedEvent{
		UserID:    user.ID,
		Username:  user.Name,
		RoomID:    roomID,
		Timestamp: now,
	}); err != nil {
		c.logger.Warn("Failed to publish SessionJoined event", "error", err)
	}

	c.logger.Info("Session joined", "userID", user.ID, "name", user.Name, "roomID", roomID)
	return s, nil
}

// checkNameFree rejects name when an active user other than selfID holds it
// under case-insensitive comparison. Two clients checking at the same time
// can both pass.
func (c *Client) checkNameFree(ctx context.Context, name, selfID string) error {
	children, err := c.store.Children(ctx, domain.UsersPath)
	if err != nil {
		c.logger.Error("Failed to read users", "error", err)
		c.notifier.Alert("Failed to check username: " + err.Error())
		return fmt.Errorf("failed to read users: %w", err)
	}

	cutoff := c.clock.Now().Add(-c.cfg.UserStaleAfter)
	for _, child := range children {
		u, err := store.Decode[domain.User](child)
		if err == nil {
			err = u.Validate()
		}
		if err != nil {
			c.logger.Warn("Skipping invalid user record", "key", child.Key, "error", err)
			continue
		}
		if u.ID == selfID || !u.ActiveSince(cutoff) {
			continue
		}
		if domain.SameName(u.Name, name) {
			return c.fieldError("username", domain.ErrUsernameTaken)
		}
	}
	return nil
}

func (c *Client) removeUser(userID string) {
	if err := c.store.Remove(context.Background(), domain.UserPath(userID)); err != nil {
		c.logger.Warn("Failed to remove user record", "userID", userID, "error", err)
	}
}

func (c *Client) fieldError(field string, err error) error {
	c.notifier.FieldError(field, err.Error())
	return &domain.ValidationError{Field: field, Err: err}
}

func (c *Client) ended(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
		c.state = StateDisconnected
	}
}

// Session is the lifetime of one identity, from join to leave.
type Session struct {
	client   *Client
	feed     *Feed
	typing   *Typing
	presence *Presence

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	bg     sync.WaitGroup

	mu         sync.Mutex
	user       domain.User
	roomID     string
	roomCancel context.CancelFunc
	roomTasks  *sync.WaitGroup
	left       bool
}

func newSession(c *Client, user domain.User) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client:   c,
		feed:     NewFeed(c.store, c.renderer, c.notifier, c.logger, c.clock, c.cfg),
		typing:   NewTyping(ctx, c.store, c.logger, c.clock, c.cfg.TypingIdle, user.ID, user.Name),
		presence: NewPresence(c.store, c.renderer, c.logger),
		ctx:      ctx,
		cancel:   cancel,
		user:     user,
	}
}

// User returns a copy of the local user.
func (s *Session) User() domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// RoomID returns the active room.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// JoinRoom switches the session to roomID: the new membership and the
// user's current room are written first, then the previous room's
// subscriptions end, its membership is removed in the background and the
// new room's feed, typing and member subscriptions start. A failed write
// leaves the session in the previous room.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return ErrNotJoined
	}
	if roomID == s.roomID {
		return nil
	}
	if _, ok := s.client.directory.Room(roomID); !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	c := s.client
	prev := s.roomID
	now := c.clock.Now()
	membership := domain.Membership{
		RoomID:      roomID,
		UserID:      s.user.ID,
		Name:        s.user.Name,
		AvatarSeed:  s.user.AvatarSeed,
		AvatarStyle: s.user.AvatarStyle,
		JoinedAt:    domain.MillisOf(now),
	}
	if err := c.store.Set(ctx, domain.MemberPath(roomID, s.user.ID), membership); err != nil {
		return s.storeFailure("join room", err)
	}
	if err := c.store.Update(ctx, domain.UserPath(s.user.ID), map[string]any{"currentRoomId": roomID}); err != nil {
		if err := c.store.Remove(context.Background(), domain.MemberPath(roomID, s.user.ID)); err != nil {
			c.logger.Warn("Failed to remove membership", "roomID", roomID, "userID", s.user.ID, "error", err)
		}
		return s.storeFailure("join room", err)
	}

	s.stopRoomLocked()
	if err := s.typing.Stop(ctx); err != nil {
		c.logger.Warn("Failed to stop typing", "roomID", prev, "error", err)
	}
	if prev != "" {
		s.removeMembershipAsync(prev)
	}

	s.user.CurrentRoomID = roomID
	s.roomID = roomID
	s.typing.MoveTo(roomID)
	c.renderer.ActivateRoom(roomID)
	c.directory.SetActive(roomID)
	s.startRoomLocked(roomID)

	if err := c.publisher.PublishRoomSwitched(events.RoomSwitchedEvent{
		UserID:     s.user.ID,
		Username:   s.user.Name,
		FromRoomID: prev,
		ToRoomID:   roomID,
		Timestamp:  now,
	}); err != nil {
		c.logger.Warn("Failed to publish RoomSwitched event", "error", err)
	}

	c.logger.Info("Joined room", "userID", s.user.ID, "from", prev, "to", roomID)
	return nil
}

// startRoomLocked runs the subscriptions of roomID under a context that the
// next switch cancels.
func (s *Session) startRoomLocked(roomID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	wg := &sync.WaitGroup{}
	s.roomCancel = cancel
	s.roomTasks = wg

	selfID := s.user.ID
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.client.logger.Warn("Room subscription ended", "subscription", name, "roomID", roomID, "error", err)
			}
		}()
	}
	run("history", func(ctx context.Context) error { return s.feed.LoadHistory(ctx, roomID) })
	run("messages", func(ctx context.Context) error { return s.feed.ListenForNewMessages(ctx, roomID) })
	run("typing", func(ctx context.Context) error { return s.presence.WatchTyping(ctx, roomID, selfID) })
	run("members", func(ctx context.Context) error { return s.presence.WatchMembers(ctx, roomID) })
}

// stopRoomLocked cancels the current room's subscriptions and waits for
// them to return.
func (s *Session) stopRoomLocked() {
	if s.roomCancel == nil {
		return
	}
	s.roomCancel()
	s.roomTasks.Wait()
	s.roomCancel = nil
	s.roomTasks = nil
}

func (s *Session) removeMembershipAsync(roomID string) {
	userID := s.user.ID
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.client.store.Remove(context.Background(), domain.MemberPath(roomID, userID)); err != nil {
			s.client.logger.Warn("Failed to remove membership", "roomID", roomID, "userID", userID, "error", err)
		}
	}()
}

func (s *Session) startHeartbeat() {
	c := s.client
	userPath := domain.UserPath(s.user.ID)
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case t := <-ticker.C():
				if err := c.store.Update(s.ctx, userPath, map[string]any{"lastActiveAt": domain.MillisOf(t)}); err != nil && s.ctx.Err() == nil {
					c.logger.Warn("Heartbeat failed", "error", err)
				}
			}
		}
	}()
}

// Connected reports whether the store is currently reachable.
func (s *Session) Connected() bool {
	return s.client.Connected()
}

// Send posts text to the active room and stops the typing indicator.
func (s *Session) Send(ctx context.Context, text string) (domain.Message, error) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return domain.Message{}, ErrNotJoined
	}
	roomID, user := s.roomID, s.user
	s.mu.Unlock()

	msg, err := s.feed.Send(ctx, text, roomID, user)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.typing.Stop(ctx); err != nil {
		s.client.logger.Warn("Failed to stop typing", "roomID", roomID, "error", err)
	}

	if err := s.client.publisher.PublishMessageSent(events.MessageSentEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.UserName,
		Content:   msg.Text,
		Timestamp: msg.CreatedAt.Time(),
	}); err != nil {
		s.client.logger.Warn("Failed to publish MessageSent event", "error", err)
	}
	return msg, nil
}

// Keystroke reports input activity in the message box.
func (s *Session) Keystroke(ctx context.Context) error {
	if s.isLeft() {
		return ErrNotJoined
	}
	return s.typing.Keystroke(ctx)
}

// CreateRoom creates a room owned by the local user.
func (s *Session) CreateRoom(ctx context.Context, name, description string) (domain.Room, error) {
	if s.isLeft() {
		return domain.Room{}, ErrNotJoined
	}
	c := s.client
	user := s.User()

	room, err := c.directory.CreateRoom(ctx, name, description, user.ID)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.notifier.FieldError(verr.Field, verr.Err.Error())
			return domain.Room{}, err
		}
		c.logger.Error("Failed to create room", "error", err)
		c.notifier.Alert("Failed to create room: " + err.Error())
		return domain.Room{}, err
	}

	if err := c.publisher.PublishRoomCreated(events.RoomCreatedEvent{
		RoomID:    room.ID,
		RoomName:  room.Name,
		CreatedBy: user.ID,
		Timestamp: room.CreatedAt.Time(),
	}); err != nil {
		c.logger.Warn("Failed to publish RoomCreated event", "error", err)
	}
	return room, nil
}

// Rename changes the display name. Messages already sent keep the name
// they were sent with.
func (s *Session) Rename(ctx context.Context, name string) error {
	c := s.client
	name, err := domain.ValidateUsername(name)
	if err != nil {
		return c.fieldError("username", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return ErrNotJoined
	}
	if err := c.checkNameFree(ctx, name, s.user.ID); err != nil {
		return err
	}

	if err := c.store.Update(ctx, domain.UserPath(s.user.ID), map[string]any{"name": name}); err != nil {
		return s.storeFailure("rename", err)
	}
	if s.roomID != "" {
		if err := c.store.Update(ctx, domain.MemberPath(s.roomID, s.user.ID), map[string]any{"name": name}); err != nil {
			return s.storeFailure("rename", err)
		}
	}

	s.user.Name = name
	s.typing.Rename(name)
	user := s.user
	c.renderer.RenderSession(&user)
	return nil
}

// SetAvatar changes the avatar on the user record and the current
// membership.
func (s *Session) SetAvatar(ctx context.Context, seed, style string) error {
	c := s.client
	avatarStyle, err := domain.ParseAvatarStyle(style)
	if err != nil {
		return c.fieldError("avatar", err)
	}
	if seed == "" {
		seed = c.newSeed()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return ErrNotJoined
	}

	if err := c.store.Update(ctx, domain.UserPath(s.user.ID), map[string]any{
		"avatar":     seed,
		"avatarType": avatarStyle,
	}); err != nil {
		return s.storeFailure("update avatar", err)
	}
	if s.roomID != "" {
		if err := c.store.Update(ctx, domain.MemberPath(s.roomID, s.user.ID), map[string]any{
			"avatar":     seed,
			"avatarType": avatarStyle,
		}); err != nil {
			return s.storeFailure("update avatar", err)
		}
	}

	s.user.AvatarSeed = seed
	s.user.AvatarStyle = avatarStyle
	user := s.user
	c.renderer.RenderSession(&user)
	return nil
}

// Leave ends the session: subscriptions and heartbeat stop, typing is
// cleared, and the membership and user records are removed.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return ErrNotJoined
	}
	s.left = true
	roomID, user := s.roomID, s.user
	s.stopRoomLocked()
	s.mu.Unlock()

	c := s.client
	if err := s.typing.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear typing state", "roomID", roomID, "error", err)
	}
	s.shutdown()

	g, gctx := errgroup.WithContext(ctx)
	if roomID != "" {
		g.Go(func() error {
			return c.store.Remove(gctx, domain.MemberPath(roomID, user.ID))
		})
	}
	g.Go(func() error {
		return c.store.Remove(gctx, domain.UserPath(user.ID))
	})
	err := g.Wait()

	c.directory.SetActive("")
	c.renderer.RenderSession(nil)
	c.ended(s)

	if err != nil {
		c.logger.Error("Failed to clean up session", "userID", user.ID, "error", err)
		return fmt.Errorf("failed to leave: %w", err)
	}

	if err := c.publisher.PublishSessionLeft(events.SessionLeftEvent{
		UserID:    user.ID,
		Username:  user.Name,
		RoomID:    roomID,
		Timestamp: c.clock.Now(),
	}); err != nil {
		c.logger.Warn("Failed to publish SessionLeft event", "error", err)
	}

	c.logger.Info("Session left", "userID", user.ID)
	return nil
}

// shutdown stops the heartbeat and background work of the session.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.stopRoomLocked()
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()
	s.bg.Wait()
}

func (s *Session) isLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

// storeFailure reports a failed write of action to the log and the user.
// Callers hold s.mu.
func (s *Session) storeFailure(action string, err error) error {
	s.client.logger.Error("Failed to "+action, "userID", s.user.ID, "error", err)
	s.client.notifier.Alert("Failed to " + action + ": " + err.Error())
	return fmt.Errorf("failed to %s: %w", action, err)
}
