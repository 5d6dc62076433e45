// Package controller holds the fiber handlers. Handlers parse and validate
// input, then hand off to the chat and booking services; they never touch
// booking or message state themselves.
package controller

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"roombox-service/booking"
	"roombox-service/chat"
	"roombox-service/errs"
	"roombox-service/repository"
	"roombox-service/utils"

	"github.com/casbin/casbin/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TokenStore keeps the one live refresh token per user.
type TokenStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Handler struct {
	Repo     *repository.Repository
	Tokens   TokenStore
	Enforcer *casbin.Enforcer
	Channels *chat.Manager
	Broker   *chat.Broker
	Bookings *booking.Coordinator
	Log      *zap.Logger

	validate *validator.Validate
}

func New(h Handler) *Handler {
	h.validate = newValidator()
	return &h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorHandler is installed as the fiber app's error handler.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if errs.KindOf(err) == "" {
			var fe *fiber.Error
			if !errors.As(err, &fe) {
				log.Error("request failed",
					zap.String("method", c.Method()),
					zap.String("path", c.Path()),
					zap.Error(err))
			}
		}
		return utils.Fail(c, err)
	}
}

// parse decodes the body into in and runs its validation tags.
func (h *Handler) parse(c *fiber.Ctx, in any) error {
	if err := c.BodyParser(in); err != nil {
		return errs.NewInvalidArgumentError("body", "Review your input")
	}
	return h.check(in)
}

func (h *Handler) check(in any) error {
	err := h.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errs.NewInvalidArgumentError(fe.Field(), describe(fe))
	}
	return errs.NewInvalidArgumentError("body", "Review your input")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "min":
		return fe.Field() + " is too short"
	case "max":
		return fe.Field() + " is too long"
	}
	return fe.Field() + " is invalid"
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errs.NewInvalidArgumentError(name, "must be a positive integer")
	}
	return uint(id), nil
}

var dateLayouts = []string{time.DateOnly, time.RFC3339}

func parseDate(field, s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.NewInvalidArgumentError(field, "dates look like 2006-01-02")
}
