package esewa

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sandbox() *Gateway {
	return New(Options{
		FormURL:     TestFormURL,
		StatusURL:   TestStatusURL,
		ProductCode: TestProductCode,
		SecretKey:   TestSecretKey,
		Timeout:     time.Second,
	})
}

func TestSignatureMatchesSandboxVector(t *testing.T) {
	require.Equal(t, "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E=", sandbox().sign("100", "11-201-13"))
}

func TestBuildRedirectForm(t *testing.T) {
	form, err := sandbox().BuildRedirectForm(context.Background(), RedirectRequest{
		Amount:           decimal.NewFromInt(5000),
		CorrelationToken: "6f1c2b1e-booking-1",
		SuccessURL:       "http://localhost:3000/payment/success",
		FailureURL:       "http://localhost:3000/payment/failure",
	})
	require.NoError(t, err)
	require.Equal(t, TestFormURL, form.FormURL)
	require.Equal(t, "5000", form.FormFields["amount"])
	require.Equal(t, "5000", form.FormFields["total_amount"])
	require.Equal(t, TestProductCode, form.FormFields["product_code"])
	require.Equal(t, SignedFieldNames, form.FormFields["signed_field_names"])
	require.Equal(t, "PPPCs8lHwvqkF2LOCx+bkfsHzxmLV6wwlDeypezdG14=", form.FormFields["signature"])
}

func TestBuildRedirectFormRejectsBadInput(t *testing.T) {
	g := sandbox()
	_, err := g.BuildRedirectForm(context.Background(), RedirectRequest{Amount: decimal.Zero, CorrelationToken: "x"})
	require.Error(t, err)

	_, err = g.BuildRedirectForm(context.Background(), RedirectRequest{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.BuildRedirectForm(ctx, RedirectRequest{Amount: decimal.NewFromInt(1), CorrelationToken: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifySignatureMatchesGatewayCallback(t *testing.T) {
	g := sandbox()
	sig := "62GcfZTmVkzhtUeh+QJ1AqiJrjoWWGof3U+eTPTZ7fA="

	require.True(t, g.VerifySignature("1000.0", "250610-162413", "000AWEO", sig))
	require.False(t, g.VerifySignature("1000.0", "250610-162413", "000AWEX", sig))
	require.False(t, g.VerifySignature("999.0", "250610-162413", "000AWEO", sig))
	require.False(t, g.VerifySignature("1000.0", "250610-162414", "000AWEO", sig))
	require.False(t, g.VerifySignature("1000.0", "250610-162413", "", sig))
	require.False(t, g.VerifySignature("1000.0", "250610-162413", "000AWEO", sig[:len(sig)-2]+"x="))
}

func TestVerifySignatureRejectsRedirectFormSignature(t *testing.T) {
	g := sandbox()
	form, err := g.BuildRedirectForm(context.Background(), RedirectRequest{
		Amount:           decimal.NewFromInt(5000),
		CorrelationToken: "6f1c2b1e-booking-1",
	})
	require.NoError(t, err)

	require.False(t, g.VerifySignature("5000", "6f1c2b1e-booking-1", "I-NEVER-PAID", form.FormFields["signature"]))
}

func TestDecodeCallback(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"transaction_code":"000AWEO","status":"COMPLETE","total_amount":1000.0,` +
		`"transaction_uuid":"250610-162413","product_code":"EPAYTEST",` +
		`"signed_field_names":"transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",` +
		`"signature":"62GcfZTmVkzhtUeh+QJ1AqiJrjoWWGof3U+eTPTZ7fA="}`))

	cb, err := DecodeCallback(data)
	require.NoError(t, err)
	require.Equal(t, "000AWEO", cb.TransactionCode)
	require.Equal(t, StatusComplete, cb.Status)
	require.Equal(t, "1000.0", cb.TotalAmount.String())
	require.Equal(t, CallbackSignedFieldNames, cb.SignedFieldNames)
	require.True(t, sandbox().VerifySignature(cb.TotalAmount.String(), cb.TransactionUUID, cb.TransactionCode, cb.Signature))

	_, err = DecodeCallback("not base64!")
	require.ErrorIs(t, err, ErrMalformedCallback)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok-1", r.URL.Query().Get("transaction_uuid"))
		require.Equal(t, "5000", r.URL.Query().Get("total_amount"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"product_code":"EPAYTEST","transaction_uuid":"tok-1","total_amount":5000.0,"status":"COMPLETE","ref_id":"0001TS9"}`))
	}))
	defer srv.Close()

	g := New(Options{StatusURL: srv.URL, ProductCode: TestProductCode, SecretKey: TestSecretKey, Timeout: time.Second})
	st, err := g.Status(context.Background(), decimal.NewFromInt(5000), "tok-1")
	require.NoError(t, err)
	require.True(t, st.Complete())
	require.NotNil(t, st.RefID)
	require.Equal(t, "0001TS9", *st.RefID)
}

func TestStatusUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := New(Options{StatusURL: srv.URL, ProductCode: TestProductCode, SecretKey: TestSecretKey, Timeout: time.Second})
	_, err := g.Status(context.Background(), decimal.NewFromInt(1), "tok")
	require.ErrorIs(t, err, ErrStatusUnavailable)
}
