package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roombox-service/booking"
	"roombox-service/chat"
	"roombox-service/config"
	"roombox-service/controller"
	"roombox-service/database"
	"roombox-service/esewa"
	"roombox-service/event"
	"roombox-service/event/listener"
	"roombox-service/repository"
	"roombox-service/router"
	"roombox-service/socketio"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(config.Default("LOG_LEVEL", "info"))
	if err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("roombox-service")
}

func main() {
	log := newLogger()
	defer func() { _ = log.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := database.RedisConnect(ctx, log); err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	if err := database.PostgresConnect(log); err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	enforcer, err := database.Casbin(database.Postgres)
	if err != nil {
		log.Fatal("casbin", zap.Error(err))
	}

	eventQueue := config.Default("EVENT_QUEUE", "roombox.events")
	callbackQueue := config.Default("EVENT_CALLBACK_QUEUE", "roombox.payments")
	bus, err := event.RabbitMQConnect(event.RabbitMQURL(), log, eventQueue, callbackQueue)
	if err != nil {
		log.Fatal("rabbitmq", zap.Error(err))
	}

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "roombox-service",
		ErrorHandler:          controller.ErrorHandler(log),
	})

	origins := "*"
	if list := config.List("CORS_ORIGINS"); len(list) > 0 {
		origins = strings.Join(list, ",")
	}
	rest.Use(cors.New(cors.Config{AllowOrigins: origins}))

	io := socketio.Init(rest, socketio.Options{
		Debug: config.Bool("SOCKET_DEBUG", false),
		Redis: database.Redis[1],
	})

	repo := repository.New(database.Postgres)
	gateway := esewa.New(esewa.OptionsFromEnv())

	channels := chat.NewManager(repo, log)
	broker := chat.NewBroker(repo, bus, log)
	bookings := booking.NewCoordinator(repo, gateway, bus, socketio.NewNotifier(io, log), log, booking.Options{
		GatewayTimeout: gateway.Timeout(),
		SuccessURL:     config.Config("PAYMENT_SUCCESS_URL"),
		FailureURL:     config.Config("PAYMENT_FAILURE_URL"),
	})

	callbacks := make(chan event.EventChannelData)
	go listener.Payments(ctx, callbacks, bookings, log)
	if err := bus.Subscribe(event.RabbitMQSubscribeListener{
		Queue:   callbackQueue,
		Channel: callbacks,
	}); err != nil {
		log.Fatal("subscribe", zap.String("queue", callbackQueue), zap.Error(err))
	}

	handler := controller.New(controller.Handler{
		Repo:     repo,
		Tokens:   database.Redis[0],
		Enforcer: enforcer,
		Channels: channels,
		Broker:   broker,
		Bookings: bookings,
		Log:      log,
	})

	router.Rest(rest, handler, enforcer, log)
	router.Socket(router.Realtime{
		Server:   io,
		Channels: channels,
		Broker:   broker,
		Presence: chat.NewPresence(database.Redis[0]),
		Log:      log,
	})

	go func() {
		addr := fmt.Sprintf(":%s", config.Default("SERVER_PORT", "8080"))
		log.Info("listening", zap.String("addr", addr))
		if err := rest.Listen(addr); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case s := <-signals:
		log.Info("shutting down", zap.String("signal", s.String()))
	case <-ctx.Done():
	}

	stop()
	if err := rest.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	io.Close(nil)
	if err := bus.Close(); err != nil {
		log.Warn("rabbitmq close", zap.Error(err))
	}
	database.RedisClose()
}
