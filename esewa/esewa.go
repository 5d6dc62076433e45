// Package esewa talks to the eSewa ePay v2 gateway: it signs the redirect
// form the browser posts to eSewa, checks callback signatures and asks the
// status API about a transaction.
package esewa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"roombox-service/config"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const (
	TestFormURL     = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
	TestStatusURL   = "https://rc.esewa.com.np/api/epay/transaction/status/"
	TestProductCode = "EPAYTEST"
	TestSecretKey   = "8gBm/:&EnhH.1/q"

	SignedFieldNames = "total_amount,transaction_uuid,product_code"
	// CallbackSignedFieldNames is the field set eSewa signs when it redirects
	// a completed payment back to the success URL.
	CallbackSignedFieldNames = "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	StatusComplete           = "COMPLETE"

	productName      = "Room Booking"
)

var ErrStatusUnavailable = errors.New("esewa: status api unavailable")

type Options struct {
	FormURL     string
	StatusURL   string
	ProductCode string
	SecretKey   string
	Timeout     time.Duration
}

// OptionsFromEnv falls back to the eSewa sandbox when nothing is configured.
func OptionsFromEnv() Options {
	return Options{
		FormURL:     config.Default("ESEWA_FORM_URL", TestFormURL),
		StatusURL:   config.Default("ESEWA_STATUS_URL", TestStatusURL),
		ProductCode: config.Default("ESEWA_PRODUCT_CODE", TestProductCode),
		SecretKey:   config.Default("ESEWA_SECRET_KEY", TestSecretKey),
		Timeout:     config.Duration("ESEWA_TIMEOUT", 10*time.Second),
	}
}

type Gateway struct {
	opts Options
}

func New(opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Gateway{opts: opts}
}

func (g *Gateway) Timeout() time.Duration { return g.opts.Timeout }

type RedirectRequest struct {
	Amount           decimal.Decimal
	CorrelationToken string
	SuccessURL       string
	FailureURL       string
}

// RedirectForm is what the client auto-submits to FormURL.
type RedirectForm struct {
	FormURL    string            `json:"form_url"`
	FormFields map[string]string `json:"form_fields"`
}

func (g *Gateway) BuildRedirectForm(ctx context.Context, in RedirectRequest) (RedirectForm, error) {
	if err := ctx.Err(); err != nil {
		return RedirectForm{}, err
	}
	if !in.Amount.IsPositive() {
		return RedirectForm{}, fmt.Errorf("esewa: amount must be positive, got %s", in.Amount)
	}
	if in.CorrelationToken == "" {
		return RedirectForm{}, errors.New("esewa: transaction uuid is required")
	}

	total := FormatAmount(in.Amount)
	return RedirectForm{
		FormURL: g.opts.FormURL,
		FormFields: map[string]string{
			"amount":                  total,
			"tax_amount":              "0",
			"product_service_charge":  "0",
			"product_delivery_charge": "0",
			"total_amount":            total,
			"transaction_uuid":        in.CorrelationToken,
			"product_code":            g.opts.ProductCode,
			"product_name":            productName,
			"success_url":             in.SuccessURL,
			"failure_url":             in.FailureURL,
			"signed_field_names":      SignedFieldNames,
			"signature":               g.sign(total, in.CorrelationToken),
		},
	}, nil
}

// VerifySignature checks the signature eSewa puts on a completed payment
// callback. The signed message binds the gateway reference and the COMPLETE
// status, so the signature handed out with the redirect form never passes.
// totalAmount must be the amount exactly as the gateway sent it.
func (g *Gateway) VerifySignature(totalAmount, token, refID, signature string) bool {
	if totalAmount == "" || token == "" || refID == "" || signature == "" {
		return false
	}
	expected := g.hmac(fmt.Sprintf(
		"transaction_code=%s,status=%s,total_amount=%s,transaction_uuid=%s,product_code=%s,signed_field_names=%s",
		refID, StatusComplete, totalAmount, token, g.opts.ProductCode, CallbackSignedFieldNames,
	))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (g *Gateway) sign(total, token string) string {
	return g.hmac(fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s", total, token, g.opts.ProductCode))
}

func (g *Gateway) hmac(message string) string {
	mac := hmac.New(sha256.New, []byte(g.opts.SecretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Callback is the payload eSewa base64-encodes into the data query
// parameter of the success redirect.
type Callback struct {
	TransactionCode  string      `json:"transaction_code"`
	Status           string      `json:"status"`
	TotalAmount      json.Number `json:"total_amount"`
	TransactionUUID  string      `json:"transaction_uuid"`
	ProductCode      string      `json:"product_code"`
	SignedFieldNames string      `json:"signed_field_names"`
	Signature        string      `json:"signature"`
}

var ErrMalformedCallback = errors.New("esewa: malformed callback data")

func DecodeCallback(data string) (Callback, error) {
	var cb Callback
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// query decoding may have turned + into a space
		raw, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(data, " ", "+"))
	}
	if err != nil {
		return cb, ErrMalformedCallback
	}
	if err := json.Unmarshal(raw, &cb); err != nil {
		return cb, ErrMalformedCallback
	}
	return cb, nil
}

// FormatAmount renders amounts the way they are signed, without a trailing
// fraction for whole rupees.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).String()
}

type TransactionStatus struct {
	ProductCode     string          `json:"product_code"`
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          string          `json:"status"`
	RefID           *string         `json:"ref_id"`
}

func (s TransactionStatus) Complete() bool { return s.Status == "COMPLETE" }

// Status asks eSewa what it knows about a transaction. The call is bounded by
// the gateway timeout or ctx's deadline, whichever comes first.
func (g *Gateway) Status(ctx context.Context, amount decimal.Decimal, token string) (TransactionStatus, error) {
	var out TransactionStatus

	timeout := g.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return out, context.DeadlineExceeded
	}

	q := url.Values{}
	q.Set("product_code", g.opts.ProductCode)
	q.Set("total_amount", FormatAmount(amount))
	q.Set("transaction_uuid", token)

	agent := fiber.Get(g.opts.StatusURL)
	agent.QueryString(q.Encode())
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(timeout)

	code, body, errs := agent.Struct(&out)
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %v", ErrStatusUnavailable, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return out, fmt.Errorf("%w: status %d: %s", ErrStatusUnavailable, code, body)
	}
	return out, nil
}
