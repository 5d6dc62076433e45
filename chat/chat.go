// Package chat owns tenant/landlord conversations: finding or opening the
// channel for a listing, the durable history, and live fan-out to connected
// sessions.
package chat

import (
	"context"

	"roombox-service/model"
)

// Realtime events exchanged with clients.
const (
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventSendMessage  = "send_message"
	EventMarkRead     = "mark_read"
	EventRoomJoined   = "room_joined"
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
	EventError        = "error"
)

const ActionMessageCreated = "chat.message.created"

const (
	MaxBodyLength       = 5000
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Store is the slice of the persistence gateway chat needs.
type Store interface {
	Room(ctx context.Context, id uint) (model.Room, error)
	Channel(ctx context.Context, id uint) (model.ChatChannel, error)
	ChannelByTriple(ctx context.Context, listingID, tenantID, landlordID uint) (model.ChatChannel, error)
	CreateChannel(ctx context.Context, ch *model.ChatChannel) error
	ChannelsByUser(ctx context.Context, userID uint) ([]model.ChatChannel, error)
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	MessageByClientKey(ctx context.Context, channelID, senderID uint, key string) (model.ChatMessage, error)
	Messages(ctx context.Context, channelID uint, offset, limit int) ([]model.ChatMessage, error)
	LastMessage(ctx context.Context, channelID uint) (*model.ChatMessage, error)
	UnreadCount(ctx context.Context, channelID, readerID uint) (int64, error)
	MarkRead(ctx context.Context, channelID, readerID uint) (int64, error)
}

// Publisher forwards domain events to other services.
type Publisher interface {
	Publish(ctx context.Context, action string, payload any) error
}

// Session is one live client connection.
type Session interface {
	ID() string
	UserID() uint
	// Emit must not block on a slow client.
	Emit(event string, payload any)
}

type RoomJoined struct {
	ChannelID uint `json:"channel_id"`
}

type MessagesRead struct {
	ChannelID uint  `json:"channel_id"`
	ReaderID  uint  `json:"reader_id"`
	Count     int64 `json:"count"`
}

// ErrorEvent is sent to the one session whose request failed.
type ErrorEvent struct {
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
