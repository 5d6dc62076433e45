package middleware

import (
	"strings"

	"roombox-service/config"
	"roombox-service/errs"
	"roombox-service/utils"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const identityKey = "identity"

func JWT() fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS512",
			Key:    []byte(config.Config("JWT_ACCESS_KEY")),
		},
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals("user").(*jwt.Token)
			if !ok {
				return utils.Fail(c, errs.Unauthenticated)
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return utils.Fail(c, errs.Unauthenticated)
			}
			meta, err := utils.MetadataFromClaims(claims)
			if err != nil {
				return utils.Fail(c, errs.NewUnauthenticatedError("Invalid or expired JWT"))
			}
			c.Locals(identityKey, meta)
			return c.Next()
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if strings.EqualFold(err.Error(), "missing or malformed JWT") {
				return utils.Fail(c, errs.NewUnauthenticatedError("Missing or malformed JWT"))
			}
			return utils.Fail(c, errs.NewUnauthenticatedError("Invalid or expired JWT"))
		},
	})
}

// Identity returns the caller JWT() authenticated.
func Identity(c *fiber.Ctx) (*utils.TokenMetadata, error) {
	meta, ok := c.Locals(identityKey).(*utils.TokenMetadata)
	if !ok || meta.UserID() == 0 {
		return nil, errs.Unauthenticated
	}
	return meta, nil
}

// CallerID is Identity reduced to the user id.
func CallerID(c *fiber.Ctx) (uint, error) {
	meta, err := Identity(c)
	if err != nil {
		return 0, err
	}
	return meta.UserID(), nil
}
