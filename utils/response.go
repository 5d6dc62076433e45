package utils

import (
	"errors"

	"roombox-service/errs"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "success",
		"message": message,
		"data":    data,
	})
}

// Fail renders err in the service's error envelope with the status its kind
// maps to. Untyped errors are reported as internal without their text.
func Fail(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"status":  "error",
			"message": fe.Message,
			"data":    nil,
		})
	}

	body := fiber.Map{
		"status":  "error",
		"message": errs.Message(err),
		"data":    nil,
	}
	var e *errs.Error
	if errors.As(err, &e) {
		body["kind"] = e.Kind
		body["retryable"] = errs.Retryable(err)
		if e.Field != nil {
			body["field"] = *e.Field
		}
	}
	return c.Status(errs.HTTPStatus(err)).JSON(body)
}
