// Package socketio hosts the socket.io server. Connections authenticate with
// an access token and join a room named after their user id, which the
// Redis adapter shares across nodes.
package socketio

import (
	"context"
	"strconv"
	"time"

	"roombox-service/booking"
	"roombox-service/model"
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

type Options struct {
	Debug bool
	// Redis backs the cross-node adapter. Nil keeps rooms in memory.
	Redis *redis.Client
}

func Init(app *fiber.App, opts Options) *socket.Server {
	log.DEBUG = opts.Debug

	options := socket.DefaultServerOptions()
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(45 * time.Second)
	if opts.Redis != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), opts.Redis),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, options)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, ok := client.Conn().Request().Query().Get("token")
		if !ok {
			next(socket.NewExtendedError("unauthenticated", nil))
			return
		}
		claims, err := utils.CheckAndExtractTokenMetadata(token, "JWT_ACCESS_KEY")
		if err != nil || claims.Otp || claims.UserID() == 0 {
			next(socket.NewExtendedError("unauthenticated", nil))
			return
		}

		client.Join(UserRoom(claims.UserID()))
		client.SetData(claims)
		next(nil)
	})

	handler := adaptor.HTTPHandler(server.ServeHandler(options))
	app.Get("/socket.io/", handler)
	app.Post("/socket.io/", handler)

	return server
}

// UserRoom is the room every socket of a user joins on connect.
func UserRoom(userID uint) socket.Room {
	return socket.Room("user:" + strconv.FormatUint(uint64(userID), 10))
}

// socketClient is the part of *socket.Socket a Session uses.
type socketClient interface {
	Id() socket.SocketId
	Emit(ev string, args ...any) error
}

// Session adapts a connected socket to chat.Session.
type Session struct {
	client socketClient
	claims *utils.TokenMetadata
	log    *zap.Logger
}

func NewSession(client *socket.Socket, log *zap.Logger) (*Session, bool) {
	claims, ok := client.Data().(*utils.TokenMetadata)
	if !ok {
		return nil, false
	}
	return &Session{client: client, claims: claims, log: log}, true
}

func (s *Session) ID() string   { return string(s.client.Id()) }
func (s *Session) UserID() uint { return s.claims.UserID() }

func (s *Session) Emit(event string, payload any) {
	if err := s.client.Emit(event, payload); err != nil {
		s.log.Debug("emit to socket",
			zap.String("event", event),
			zap.String("socket_id", s.ID()),
			zap.Uint("user_id", s.UserID()),
			zap.Error(err))
	}
}

type BookingUpdate struct {
	BookingID uint                `json:"booking_id"`
	Status    model.BookingStatus `json:"status"`
}

// Notifier delivers booking changes to both parties' user rooms.
type Notifier struct {
	server *socket.Server
	log    *zap.Logger
}

func NewNotifier(server *socket.Server, log *zap.Logger) *Notifier {
	return &Notifier{server: server, log: log}
}

func (n *Notifier) BookingUpdated(b model.Booking) {
	update := BookingUpdate{BookingID: b.ID, Status: b.Status}
	for _, id := range []uint{b.TenantID, b.LandlordID} {
		if err := n.server.To(UserRoom(id)).Emit(booking.EventBookingUpdated, update); err != nil {
			n.log.Warn("emit booking update", zap.Uint("booking_id", b.ID), zap.Uint("user_id", id), zap.Error(err))
		}
	}
}
