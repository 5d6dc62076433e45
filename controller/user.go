package controller

import (
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) UserProfile(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}

	return utils.Success(c, fiber.StatusOK, "", fiber.Map{
		"id":        user.ID,
		"created":   user.CreatedAt.Unix(),
		"username":  user.Username,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
		"otp":       user.OtpEnabled,
	})
}
