package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"roombox-service/errs"
	"roombox-service/keylock"
	"roombox-service/metrics"
	"roombox-service/model"
	"roombox-service/repository"

	"go.uber.org/zap"
)

const (
	TransportSocket = "socket"
	TransportHTTP   = "http"
)

// Broker fans messages out to the sessions joined to each channel. Sends on
// one channel are serialized so that live delivery order matches the order
// messages were persisted in; different channels never contend.
type Broker struct {
	store          Store
	events         Publisher
	log            *zap.Logger
	publishTimeout time.Duration

	sends *keylock.Map[uint]

	mu     sync.RWMutex
	groups map[uint]map[string]Session
	joined map[string]map[uint]struct{}
}

func NewBroker(store Store, events Publisher, log *zap.Logger) *Broker {
	return &Broker{
		store:          store,
		events:         events,
		log:            log,
		publishTimeout: 5 * time.Second,
		sends:          keylock.New[uint](),
		groups:         make(map[uint]map[string]Session),
		joined:         make(map[string]map[uint]struct{}),
	}
}

// Join subscribes s to the channel's live group and acknowledges with
// room_joined. History is not replayed; the client fetches it separately.
func (b *Broker) Join(ctx context.Context, channelID uint, s Session) error {
	if _, err := participantChannel(ctx, b.store, channelID, s.UserID()); err != nil {
		return err
	}

	b.mu.Lock()
	group, ok := b.groups[channelID]
	if !ok {
		group = make(map[string]Session)
		b.groups[channelID] = group
	}
	group[s.ID()] = s

	channels, ok := b.joined[s.ID()]
	if !ok {
		channels = make(map[uint]struct{})
		b.joined[s.ID()] = channels
	}
	channels[channelID] = struct{}{}
	b.mu.Unlock()

	s.Emit(EventRoomJoined, RoomJoined{ChannelID: channelID})
	return nil
}

func (b *Broker) Leave(channelID uint, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(channelID, sessionID)
}

// Disconnect drops the session from every channel it joined.
func (b *Broker) Disconnect(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channelID := range b.joined[sessionID] {
		b.leaveLocked(channelID, sessionID)
	}
	delete(b.joined, sessionID)
}

func (b *Broker) leaveLocked(channelID uint, sessionID string) {
	if group, ok := b.groups[channelID]; ok {
		delete(group, sessionID)
		if len(group) == 0 {
			delete(b.groups, channelID)
		}
	}
	if channels, ok := b.joined[sessionID]; ok {
		delete(channels, channelID)
		if len(channels) == 0 {
			delete(b.joined, sessionID)
		}
	}
}

// Joined reports whether the session is in the channel's live group.
func (b *Broker) Joined(channelID uint, sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.groups[channelID][sessionID]
	return ok
}

func (b *Broker) members(channelID uint) []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	group := b.groups[channelID]
	out := make([]Session, 0, len(group))
	for _, s := range group {
		out = append(out, s)
	}
	return out
}

type SendMessage struct {
	ChannelID uint
	SenderID  uint
	Body      string
	// IdempotencyKey lets a client resubmit the same message over another
	// transport without creating a second row.
	IdempotencyKey string
}

func (in *SendMessage) Validate() error {
	in.Body = strings.TrimSpace(in.Body)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.ChannelID == 0 {
		return errs.NewInvalidArgumentError("channel_id", "channel is required")
	}
	if in.Body == "" {
		return errs.NewInvalidArgumentError("body", "message body is required")
	}
	if utf8.RuneCountInString(in.Body) > MaxBodyLength {
		return errs.NewInvalidArgumentError("body", "message body is too long")
	}
	if len(in.IdempotencyKey) > 128 {
		return errs.NewInvalidArgumentError("idempotency_key", "idempotency key is too long")
	}
	return nil
}

// SendLive handles send_message from a connected session. The session must
// have joined the channel first.
func (b *Broker) SendLive(ctx context.Context, s Session, in SendMessage) (model.ChatMessage, error) {
	if s.UserID() == 0 {
		return model.ChatMessage{}, errs.Unauthenticated
	}
	if !b.Joined(in.ChannelID, s.ID()) {
		return model.ChatMessage{}, errs.NotParticipant
	}
	in.SenderID = s.UserID()
	return b.send(ctx, in, TransportSocket)
}

// Send is the HTTP fallback path. It shares persistence, dedup and fan-out with SendLive.
func (b *Broker) Send(ctx context.Context, in SendMessage) (model.ChatMessage, error) {
	return b.send(ctx, in, TransportHTTP)
}

func (b *Broker) send(ctx context.Context, in SendMessage, transport string) (model.ChatMessage, error) {
	var out model.ChatMessage

	if err := in.Validate(); err != nil {
		return out, err
	}
	if _, err := participantChannel(ctx, b.store, in.ChannelID, in.SenderID); err != nil {
		return out, err
	}

	unlock := b.sends.Lock(in.ChannelID)

	if in.IdempotencyKey != "" {
		existing, err := b.store.MessageByClientKey(ctx, in.ChannelID, in.SenderID, in.IdempotencyKey)
		if err == nil {
			unlock()
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			unlock()
			return out, b.storeFailure(in, err)
		}
	}

	out = model.ChatMessage{
		ChannelID: in.ChannelID,
		SenderID:  in.SenderID,
		Body:      in.Body,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		out.ClientKey = &key
	}
	if err := b.store.CreateMessage(ctx, &out); err != nil {
		unlock()
		return model.ChatMessage{}, b.storeFailure(in, err)
	}
	metrics.MessagesSent.WithLabelValues(transport).Inc()

	for _, s := range b.members(in.ChannelID) {
		s.Emit(EventNewMessage, out)
		metrics.MessagesDelivered.Inc()
	}
	unlock()

	b.publish(ActionMessageCreated, out)
	return out, nil
}

func (b *Broker) storeFailure(in SendMessage, err error) error {
	b.log.Error("persist chat message",
		zap.Uint("channel_id", in.ChannelID),
		zap.Uint("sender_id", in.SenderID),
		zap.Error(err))
	return errs.NewUnavailableError("message could not be saved, please retry")
}

// MarkRead flags the other participant's messages as read and tells the
// channel's live sessions.
func (b *Broker) MarkRead(ctx context.Context, channelID, readerID uint) (int64, error) {
	if _, err := participantChannel(ctx, b.store, channelID, readerID); err != nil {
		return 0, err
	}

	n, err := b.store.MarkRead(ctx, channelID, readerID)
	if err != nil {
		return 0, err
	}

	receipt := MessagesRead{ChannelID: channelID, ReaderID: readerID, Count: n}
	for _, s := range b.members(channelID) {
		s.Emit(EventMessagesRead, receipt)
	}
	return n, nil
}

func (b *Broker) publish(action string, payload any) {
	if b.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()
	if err := b.events.Publish(ctx, action, payload); err != nil {
		b.log.Warn("publish chat event", zap.String("action", action), zap.Error(err))
	}
}
