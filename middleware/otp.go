package middleware

import (
	"roombox-service/errs"
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
)

// OTP blocks tokens issued before the second factor was validated.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta, err := Identity(c)
		if err != nil {
			return utils.Fail(c, err)
		}
		if meta.Otp {
			return utils.Fail(c, errs.NewPermissionDeniedError("2FA required"))
		}
		return c.Next()
	}
}
