package controller_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"roombox-service/booking"
	"roombox-service/chat"
	"roombox-service/controller"
	"roombox-service/database"
	"roombox-service/esewa"
	"roombox-service/model"
	"roombox-service/repository"
	"roombox-service/repository/repotest"
	"roombox-service/router"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memoryTokens stands in for the refresh token Redis database.
type memoryTokens struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memoryTokens) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (s *memoryTokens) Get(_ context.Context, key string) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

// esewaCallback encodes a completed payment the way eSewa appends it to the
// success URL.
func esewaCallback(t *testing.T, token, refID, amount string) string {
	t.Helper()
	message := fmt.Sprintf(
		"transaction_code=%s,status=COMPLETE,total_amount=%s,transaction_uuid=%s,product_code=%s,signed_field_names=%s",
		refID, amount, token, esewa.TestProductCode, esewa.CallbackSignedFieldNames)
	mac := hmac.New(sha256.New, []byte(esewa.TestSecretKey))
	mac.Write([]byte(message))

	raw, err := json.Marshal(map[string]string{
		"transaction_code":   refID,
		"status":             esewa.StatusComplete,
		"total_amount":       amount,
		"transaction_uuid":   token,
		"product_code":       esewa.TestProductCode,
		"signed_field_names": esewa.CallbackSignedFieldNames,
		"signature":          base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Kind      string          `json:"kind"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

type server struct {
	t   *testing.T
	app *fiber.App
	db  *gorm.DB
}

func newServer(t *testing.T) *server {
	t.Setenv("JWT_ACCESS_KEY", "access-secret")
	t.Setenv("JWT_REFRESH_KEY", "refresh-secret")
	t.Setenv("BCRYPT_COST", "4")

	log := zap.NewNop()
	db := repotest.Open(t)
	repo := repository.New(db)

	enforcer, err := database.Casbin(db)
	require.NoError(t, err)

	gateway := esewa.New(esewa.Options{
		FormURL:     esewa.TestFormURL,
		StatusURL:   esewa.TestStatusURL,
		ProductCode: esewa.TestProductCode,
		SecretKey:   esewa.TestSecretKey,
	})

	h := controller.New(controller.Handler{
		Repo:     repo,
		Tokens:   &memoryTokens{m: map[string]string{}},
		Enforcer: enforcer,
		Channels: chat.NewManager(repo, log),
		Broker:   chat.NewBroker(repo, nil, log),
		Bookings: booking.NewCoordinator(repo, gateway, nil, nil, log, booking.Options{
			SuccessURL: "https://roombox.test/payment/success",
			FailureURL: "https://roombox.test/payment/failure",
		}),
		Log: log,
	})

	app := fiber.New(fiber.Config{ErrorHandler: controller.ErrorHandler(log)})
	router.Rest(app, h, enforcer, log)
	return &server{t: t, app: app, db: db}
}

func (s *server) do(method, target, token string, body any) (int, envelope) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// signup registers a user and returns its id and access token.
func (s *server) signup(username, role string) (uint, string) {
	s.t.Helper()

	status, env := s.do(http.MethodPost, "/v1/auth/signup", "", fiber.Map{
		"username": username,
		"email":    username + "@roombox.test",
		"password": "correct-horse",
		"role":     role,
	})
	require.Equal(s.t, http.StatusCreated, status, env.Message)
	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &created))

	status, env = s.do(http.MethodPost, "/v1/auth/signin", "", fiber.Map{
		"login":    username,
		"password": "correct-horse",
	})
	require.Equal(s.t, http.StatusOK, status, env.Message)
	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &tokens))
	require.NotEmpty(s.t, tokens.Access)
	return created.ID, tokens.Access
}

func (s *server) listing(ownerID uint, l repotest.Listing) model.Room {
	s.t.Helper()
	var owner model.User
	require.NoError(s.t, s.db.First(&owner, ownerID).Error)
	return repotest.CreateRoom(s.t, s.db, owner, l)
}

func TestAuthSignupAndSignin(t *testing.T) {
	s := newServer(t)
	s.signup("sita", model.RoleTenant)

	status, env := s.do(http.MethodPost, "/v1/auth/signup", "", fiber.Map{
		"username": "sita",
		"email":    "other@roombox.test",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "error", env.Status)
	require.Equal(t, "conflict", env.Kind)

	status, env = s.do(http.MethodPost, "/v1/auth/signin", "", fiber.Map{
		"login":    "sita@roombox.test",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", env.Kind)
}

func TestValidationErrorEnvelope(t *testing.T) {
	s := newServer(t)

	status, env := s.do(http.MethodPost, "/v1/auth/signup", "", fiber.Map{
		"username": "ram",
		"email":    "not-an-email",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "error", env.Status)
	require.Equal(t, "invalid_argument", env.Kind)
	require.Equal(t, "null", string(env.Data))
}

func TestChatRoutesRequireToken(t *testing.T) {
	s := newServer(t)

	status, env := s.do(http.MethodGet, "/v1/chat/rooms", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", env.Kind)
}

func TestChatCreateAndSend(t *testing.T) {
	s := newServer(t)
	tenantID, tenant := s.signup("sita", model.RoleTenant)
	landlordID, landlord := s.signup("hari", model.RoleLandlord)
	_, stranger := s.signup("gopal", model.RoleTenant)
	room := s.listing(landlordID, repotest.Listing{Rent: 12000, Deposit: 5000, Available: 1})

	status, env := s.do(http.MethodPost, "/v1/chat/rooms/create", tenant, fiber.Map{"room_id": room.ID})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var channel model.ChatChannel
	require.NoError(t, json.Unmarshal(env.Data, &channel))
	require.Equal(t, tenantID, channel.TenantID)
	require.Equal(t, landlordID, channel.LandlordID)

	status, _ = s.do(http.MethodPost, "/v1/chat/rooms/create", tenant, fiber.Map{"room_id": room.ID})
	require.Equal(t, http.StatusOK, status)

	messages := fmt.Sprintf("/v1/chat/rooms/%d/messages", channel.ID)
	status, env = s.do(http.MethodPost, messages, tenant, fiber.Map{"body": "  Is the room still free?  "})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var sent model.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	require.Equal(t, "Is the room still free?", sent.Body)

	status, env = s.do(http.MethodPost, messages, stranger, fiber.Map{"body": "hello"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "permission_denied", env.Kind)

	status, env = s.do(http.MethodGet, messages, landlord, nil)
	require.Equal(t, http.StatusOK, status)
	var history []model.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	require.Equal(t, sent.ID, history[0].ID)
}

func TestBookingPaymentFlow(t *testing.T) {
	s := newServer(t)
	_, tenant := s.signup("sita", model.RoleTenant)
	landlordID, landlord := s.signup("hari", model.RoleLandlord)
	room := s.listing(landlordID, repotest.Listing{Rent: 12000, Deposit: 5000, Available: 1})

	// landlords may not request bookings at all
	status, env := s.do(http.MethodPost, "/v1/bookings/request", landlord, fiber.Map{
		"room_id":    room.ID,
		"start_date": time.Now().AddDate(0, 0, 7).Format(time.DateOnly),
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "permission_denied", env.Kind)

	status, env = s.do(http.MethodPost, "/v1/bookings/request", tenant, fiber.Map{
		"room_id":    room.ID,
		"start_date": time.Now().AddDate(0, 0, 7).Format(time.DateOnly),
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var b model.Booking
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, model.BookingAwaitingPayment, b.Status)

	status, env = s.do(http.MethodPost, fmt.Sprintf("/v1/bookings/%d/payment/initiate", b.ID), tenant,
		fiber.Map{"payment_type": "security_deposit"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var redirect booking.PaymentRedirect
	require.NoError(t, json.Unmarshal(env.Data, &redirect))
	require.Equal(t, "5000", redirect.FormFields["total_amount"])

	// replaying the redirect form's own signature is not proof of payment
	verify := "/v1/bookings/payment/verify?" + url.Values{
		"transaction_uuid": {redirect.CorrelationToken},
		"ref_id":           {"000AE01"},
		"signature":        {redirect.FormFields["signature"]},
	}.Encode()
	status, env = s.do(http.MethodPost, verify, "", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "verification_failed", env.Kind)

	verify = "/v1/bookings/payment/verify?" + url.Values{
		"data": {esewaCallback(t, redirect.CorrelationToken, "000AE01", "5000.0")},
	}.Encode()
	for i := 0; i < 2; i++ {
		status, env = s.do(http.MethodGet, verify, "", nil)
		require.Equal(t, http.StatusOK, status, env.Message)
	}
	var result struct {
		BookingStatus model.BookingStatus `json:"booking_status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Equal(t, model.BookingPaidPendingApproval, result.BookingStatus)

	status, env = s.do(http.MethodPatch, fmt.Sprintf("/v1/bookings/%d/approve", b.ID), tenant, nil)
	require.Equal(t, http.StatusForbidden, status, env.Message)

	status, env = s.do(http.MethodPatch, fmt.Sprintf("/v1/bookings/%d/approve", b.ID), landlord, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, model.BookingApproved, b.Status)
}
