package controller

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"roombox-service/config"
	"roombox-service/database"
	"roombox-service/errs"
	"roombox-service/middleware"
	"roombox-service/model"
	"roombox-service/repository"
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type AuthSignupInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=tenant landlord"`
}

type AuthLoginInput struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password" validate:"required"`
}

type AuthOtpTokenInput struct {
	Token string `json:"token" validate:"required"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

var errBadLogin = errs.NewUnauthenticatedError("Invalid login or password")

func (h *Handler) AuthSignup(c *fiber.Ctx) error {
	in := new(AuthSignupInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	ctx := c.UserContext()

	if _, err := h.Repo.UserByEmail(ctx, in.Email); err == nil {
		return errs.NewConflictError("Email is already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := h.Repo.UserByUsername(ctx, in.Username); err == nil {
		return errs.NewConflictError("Username is already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), config.Int("BCRYPT_COST", 14))
	if err != nil {
		return err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      config.Default("OTP_ISSUER", "RoomBox"),
		AccountName: in.Email,
		SecretSize:  15,
	})
	if err != nil {
		return err
	}

	role := in.Role
	if role == "" {
		role = model.RoleTenant
	}
	user := model.User{
		Username:  in.Username,
		Email:     in.Email,
		FullName:  in.FullName,
		Password:  string(hash),
		Role:      role,
		OtpSecret: key.Secret(),
	}
	if err := h.Repo.CreateUser(ctx, &user); err != nil {
		return err
	}
	if err := database.AssignRole(h.Enforcer, user.ID, user.Role); err != nil {
		return err
	}

	return utils.Success(c, fiber.StatusCreated, "", fiber.Map{"id": user.ID})
}

func (h *Handler) AuthSignin(c *fiber.Ctx) error {
	in := new(AuthLoginInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	ctx := c.UserContext()

	var (
		user model.User
		err  error
	)
	if _, parseErr := mail.ParseAddress(in.Login); parseErr == nil {
		user, err = h.Repo.UserByEmail(ctx, in.Login)
	} else {
		user, err = h.Repo.UserByUsername(ctx, in.Login)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return errBadLogin
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return errBadLogin
	}
	if err := database.AssignRole(h.Enforcer, user.ID, user.Role); err != nil {
		return err
	}

	return h.issue(c, user.ID, user.Role, user.OtpEnabled)
}

func (h *Handler) issue(c *fiber.Ctx, userID uint, role string, otp bool) error {
	id := strconv.FormatUint(uint64(userID), 10)
	tokens, err := utils.GenerateTokens(id, role, otp)
	if err != nil {
		return err
	}
	if err := h.Tokens.Set(c.UserContext(), refreshKey(id), tokens.Refresh, 0).Err(); err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
		"2fa":     otp,
	})
}

func refreshKey(id string) string {
	return "refresh:" + id
}

// AuthTokenRenew rotates the refresh token. A token that was already
// exchanged is refused.
func (h *Handler) AuthTokenRenew(c *fiber.Ctx) error {
	in := new(AuthRenewTokenInput)
	if err := h.parse(c, in); err != nil {
		return err
	}

	claims, err := utils.CheckAndExtractTokenMetadata(in.RefreshToken, "JWT_REFRESH_KEY")
	if err != nil {
		return errs.NewUnauthenticatedError("Invalid token")
	}

	stored, err := h.Tokens.Get(c.UserContext(), refreshKey(claims.Id)).Result()
	if err != nil || stored != in.RefreshToken {
		return errs.NewUnauthenticatedError("Unauthorized, your refresh token was already used")
	}

	return h.issue(c, claims.UserID(), claims.Role, claims.Otp)
}

func (h *Handler) currentUser(c *fiber.Ctx) (model.User, error) {
	id, err := middleware.CallerID(c)
	if err != nil {
		return model.User{}, err
	}
	user, err := h.Repo.User(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return user, errs.Unauthenticated
	}
	return user, err
}

func (h *Handler) AuthOtpSecret(c *fiber.Ctx) error {
	in := new(AuthOtpSecretInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return errs.NewPermissionDeniedError("Invalid password")
	}

	issuer := config.Default("OTP_ISSUER", "RoomBox")
	return utils.Success(c, fiber.StatusOK, "", fiber.Map{
		"secret": user.OtpSecret,
		"url": fmt.Sprintf("otpauth://totp/%s:%s?algorithm=SHA1&digits=6&issuer=%s&period=30&secret=%s",
			issuer, user.Email, issuer, user.OtpSecret),
	})
}

func (h *Handler) AuthOtpVerify(c *fiber.Ctx) error {
	in := new(AuthOtpTokenInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if user.OtpEnabled {
		return errs.NewConflictError("Verification has already been performed earlier")
	}
	if !totp.Validate(strings.TrimSpace(in.Token), user.OtpSecret) {
		return errs.NewInvalidArgumentError("token", "Invalid token")
	}

	user.OtpEnabled = true
	if err := h.Repo.SaveUser(c.UserContext(), &user); err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", nil)
}

// AuthOtpValidate trades a half-authenticated token plus a TOTP code for a
// full session.
func (h *Handler) AuthOtpValidate(c *fiber.Ctx) error {
	in := new(AuthOtpTokenInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if !user.OtpEnabled {
		return errs.NewConflictError("2FA has been disabled")
	}
	if !totp.Validate(strings.TrimSpace(in.Token), user.OtpSecret) {
		return errs.NewInvalidArgumentError("token", "Invalid token")
	}
	return h.issue(c, user.ID, user.Role, false)
}

func (h *Handler) AuthOtpDisable(c *fiber.Ctx) error {
	in := new(AuthOtpDisableInput)
	if err := h.parse(c, in); err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if !user.OtpEnabled {
		return errs.NewConflictError("2fa not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return errs.NewPermissionDeniedError("Invalid password")
	}
	if !totp.Validate(strings.TrimSpace(in.Token), user.OtpSecret) {
		return errs.NewInvalidArgumentError("token", "Invalid token")
	}

	user.OtpEnabled = false
	if err := h.Repo.SaveUser(c.UserContext(), &user); err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", nil)
}
