package middleware

import (
	"roombox-service/errs"
	"roombox-service/utils"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RBAC checks the caller's user id against the route policy.
func RBAC(e *casbin.Enforcer, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta, err := Identity(c)
		if err != nil {
			return utils.Fail(c, err)
		}

		accepted, err := e.Enforce(meta.Id, c.Path(), c.Method())
		if err != nil {
			log.Error("casbin enforce", zap.String("path", c.Path()), zap.Error(err))
			return utils.Fail(c, err)
		}
		if !accepted {
			return utils.Fail(c, errs.NewPermissionDeniedError("Unauthorized"))
		}

		return c.Next()
	}
}
