package router

import (
	"context"
	"encoding/json"
	"time"

	"roombox-service/chat"
	"roombox-service/errs"
	"roombox-service/metrics"
	"roombox-service/socketio"

	"github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

const socketEventTimeout = 10 * time.Second

// ChannelPayload accepts both spellings clients use for the channel id.
type ChannelPayload struct {
	ChannelID      uint   `json:"channel_id"`
	ChannelIDCamel uint   `json:"channelId"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (p ChannelPayload) channel() uint {
	if p.ChannelID != 0 {
		return p.ChannelID
	}
	return p.ChannelIDCamel
}

// decodePayload reads the first event argument, either an object or a bare
// channel id.
func decodePayload(args []interface{}) (ChannelPayload, error) {
	var p ChannelPayload
	if len(args) == 0 {
		return p, errs.NewInvalidArgumentError("channel_id", "payload is required")
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return p, errs.NewInvalidArgumentError("payload", "payload is not valid JSON")
	}
	var id uint
	if json.Unmarshal(raw, &id) == nil {
		p.ChannelID = id
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errs.NewInvalidArgumentError("payload", "payload is malformed")
	}
	if p.channel() == 0 {
		return p, errs.NewInvalidArgumentError("channel_id", "channel is required")
	}
	return p, nil
}

type Realtime struct {
	Server   *socket.Server
	Channels *chat.Manager
	Broker   *chat.Broker
	Presence *chat.Presence
	Log      *zap.Logger
}

func Socket(rt Realtime) {
	rt.Server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)
		session, ok := socketio.NewSession(client, rt.Log)
		if !ok {
			client.Disconnect(true)
			return
		}
		metrics.SocketsConnected.Inc()
		rt.presenceChanged(session.UserID(), true)

		client.On(chat.EventJoinRoom, func(args ...interface{}) {
			rt.handle(session, chat.EventJoinRoom, args, func(ctx context.Context, p ChannelPayload) error {
				return rt.Broker.Join(ctx, p.channel(), session)
			})
		})

		client.On(chat.EventLeaveRoom, func(args ...interface{}) {
			rt.handle(session, chat.EventLeaveRoom, args, func(_ context.Context, p ChannelPayload) error {
				rt.Broker.Leave(p.channel(), session.ID())
				return nil
			})
		})

		client.On(chat.EventSendMessage, func(args ...interface{}) {
			rt.handle(session, chat.EventSendMessage, args, func(ctx context.Context, p ChannelPayload) error {
				_, err := rt.Broker.SendLive(ctx, session, chat.SendMessage{
					ChannelID:      p.channel(),
					Body:           p.Body,
					IdempotencyKey: p.IdempotencyKey,
				})
				return err
			})
		})

		client.On(chat.EventMarkRead, func(args ...interface{}) {
			rt.handle(session, chat.EventMarkRead, args, func(ctx context.Context, p ChannelPayload) error {
				_, err := rt.Broker.MarkRead(ctx, p.channel(), session.UserID())
				return err
			})
		})

		client.On(chat.EventUserStatus, func(...interface{}) {
			ctx, cancel := context.WithTimeout(context.Background(), socketEventTimeout)
			defer cancel()

			ids, err := rt.Channels.Counterparts(ctx, session.UserID())
			if err != nil {
				rt.fail(session, chat.EventUserStatus, err)
				return
			}
			status, err := rt.Presence.Online(ctx, ids...)
			if err != nil {
				rt.fail(session, chat.EventUserStatus, err)
				return
			}
			if status == nil {
				status = []chat.UserStatus{}
			}
			session.Emit(chat.EventUserStatus, status)
		})

		client.On("disconnect", func(...interface{}) {
			rt.Broker.Disconnect(session.ID())
			metrics.SocketsConnected.Dec()
			rt.presenceChanged(session.UserID(), false)
		})
	})
}

func (rt Realtime) handle(s *socketio.Session, event string, args []interface{}, fn func(ctx context.Context, p ChannelPayload) error) {
	p, err := decodePayload(args)
	if err != nil {
		rt.fail(s, event, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketEventTimeout)
	defer cancel()

	if err := fn(ctx, p); err != nil {
		rt.fail(s, event, err)
	}
}

// fail reports an error to the one session that caused it.
func (rt Realtime) fail(s *socketio.Session, event string, err error) {
	if errs.KindOf(err) == "" {
		rt.Log.Error("socket event failed",
			zap.String("event", event),
			zap.Uint("user_id", s.UserID()),
			zap.Error(err))
	}
	s.Emit(chat.EventError, chat.ErrorEvent{
		Message:   errs.Message(err),
		Kind:      string(errs.KindOf(err)),
		Retryable: errs.Retryable(err),
	})
}

// presenceChanged tells counterparts when a user's first socket connects or
// last socket goes away.
func (rt Realtime) presenceChanged(userID uint, connected bool) {
	if rt.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), socketEventTimeout)
	defer cancel()

	var (
		changed bool
		err     error
	)
	if connected {
		changed, err = rt.Presence.Connected(ctx, userID)
	} else {
		changed, err = rt.Presence.Disconnected(ctx, userID)
	}
	if err != nil {
		rt.Log.Warn("update presence", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if !changed {
		return
	}

	ids, err := rt.Channels.Counterparts(ctx, userID)
	if err != nil {
		rt.Log.Warn("load counterparts", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	status := []chat.UserStatus{{UserID: userID, Online: connected}}
	for _, id := range ids {
		_ = rt.Server.To(socketio.UserRoom(id)).Emit(chat.EventUserStatus, status)
	}
}
