package router

import (
	"roombox-service/controller"
	"roombox-service/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func Rest(app *fiber.App, h *controller.Handler, enforcer *casbin.Enforcer, log *zap.Logger) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/v1", logger.New())

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signup", h.AuthSignup)
	auth.Post("/signin", h.AuthSignin)
	auth.Post("/token/renew", h.AuthTokenRenew)
	auth.Post("/2fa/secret", middleware.JWT(), middleware.OTP(), h.AuthOtpSecret)
	auth.Post("/2fa/verify", middleware.JWT(), middleware.OTP(), h.AuthOtpVerify)
	auth.Post("/2fa/validate", middleware.JWT(), h.AuthOtpValidate)
	auth.Post("/2fa/disable", middleware.JWT(), middleware.OTP(), h.AuthOtpDisable)

	// User
	user := api.Group("/user", middleware.JWT(), middleware.OTP())
	user.Get("/profile", h.UserProfile)

	// Gateway callback, authenticated by its signature.
	api.Get("/bookings/payment/verify", h.PaymentVerify)
	api.Post("/bookings/payment/verify", h.PaymentVerify)

	guarded := []fiber.Handler{middleware.JWT(), middleware.OTP(), middleware.RBAC(enforcer, log)}

	// Chat
	chat := api.Group("/chat", guarded...)
	chat.Post("/rooms/create", h.ChatCreateRoom)
	chat.Get("/rooms", h.ChatRooms)
	chat.Get("/rooms/:id", h.ChatRoom)
	chat.Get("/rooms/:id/messages", h.ChatMessages)
	chat.Post("/rooms/:id/messages", h.ChatSendMessage)
	chat.Patch("/rooms/:id/read", h.ChatMarkRead)

	// Bookings
	bookings := api.Group("/bookings", guarded...)
	bookings.Post("/request", h.BookingRequest)
	bookings.Get("/mine", h.BookingMine)
	bookings.Get("/payments/:token/status", h.PaymentStatus)
	bookings.Get("/:id", h.BookingGet)
	bookings.Get("/:id/payments", h.BookingPayments)
	bookings.Post("/:id/payment/initiate", h.PaymentInitiate)
	bookings.Patch("/:id/approve", h.BookingApprove)
	bookings.Patch("/:id/reject", h.BookingReject)
}
