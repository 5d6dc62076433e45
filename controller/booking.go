package controller

import (
	"fmt"

	"roombox-service/booking"
	"roombox-service/errs"
	"roombox-service/esewa"
	"roombox-service/middleware"
	"roombox-service/model"
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
)

type BookingRequestInput struct {
	RoomID        uint   `json:"room_id" validate:"required"`
	StartDate     string `json:"start_date" validate:"required"`
	EndDate       string `json:"end_date"`
	TenantMessage string `json:"tenant_message" validate:"max=1000"`
}

type PaymentInitiateInput struct {
	PaymentType  string `json:"payment_type" validate:"omitempty,oneof=security_deposit advance booking_payment monthly_rent"`
	PaymentMonth string `json:"payment_month"`
}

// PaymentVerifyInput is what the gateway success redirect carries: either
// eSewa's base64 data parameter or the decoded fields. It is read from the
// query string first, then the body.
type PaymentVerifyInput struct {
	Data            string `json:"data" query:"data" form:"data"`
	TransactionUUID string `json:"transaction_uuid" query:"transaction_uuid" form:"transaction_uuid"`
	RefID           string `json:"ref_id" query:"ref_id" form:"ref_id"`
	TotalAmount     string `json:"total_amount" query:"total_amount" form:"total_amount"`
	Signature       string `json:"signature" query:"signature" form:"signature"`
}

func (in PaymentVerifyInput) verification() (booking.VerifyPayment, error) {
	if in.Data == "" {
		return booking.VerifyPayment{
			CorrelationToken: in.TransactionUUID,
			GatewayRefID:     in.RefID,
			Signature:        in.Signature,
			TotalAmount:      in.TotalAmount,
		}, nil
	}
	cb, err := esewa.DecodeCallback(in.Data)
	if err != nil {
		return booking.VerifyPayment{}, errs.NewVerificationFailedError("malformed callback data")
	}
	if cb.Status != esewa.StatusComplete {
		return booking.VerifyPayment{}, errs.NewVerificationFailedError(fmt.Sprintf("payment status is %s", cb.Status))
	}
	return booking.VerifyPayment{
		CorrelationToken: cb.TransactionUUID,
		GatewayRefID:     cb.TransactionCode,
		Signature:        cb.Signature,
		TotalAmount:      cb.TotalAmount.String(),
	}, nil
}

type BookingRejectInput struct {
	LandlordResponse string `json:"landlord_response" validate:"max=1000"`
}

func (h *Handler) BookingRequest(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	in := new(BookingRequestInput)
	if err := h.parse(c, in); err != nil {
		return err
	}

	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return err
	}
	req := booking.RequestBooking{
		ListingID: in.RoomID,
		TenantID:  caller,
		StartDate: start,
		Message:   in.TenantMessage,
	}
	if in.EndDate != "" {
		end, err := parseDate("end_date", in.EndDate)
		if err != nil {
			return err
		}
		req.EndDate = &end
	}

	b, err := h.Bookings.RequestBooking(c.UserContext(), req)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusCreated, "Booking requested", b)
}

func (h *Handler) BookingMine(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	list, err := h.Bookings.ListBookings(c.UserContext(), caller, c.Query("as"))
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", list)
}

func (h *Handler) BookingGet(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Bookings.Booking(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", b)
}

func (h *Handler) BookingPayments(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	payments, err := h.Bookings.Payments(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", payments)
}

func (h *Handler) PaymentInitiate(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	in := new(PaymentInitiateInput)
	if len(c.Body()) > 0 {
		if err := h.parse(c, in); err != nil {
			return err
		}
	}

	redirect, err := h.Bookings.InitiatePayment(c.UserContext(), booking.InitiatePayment{
		BookingID: id,
		CallerID:  caller,
		Type:      model.PaymentType(in.PaymentType),
		Month:     in.PaymentMonth,
	})
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "Payment initiated successfully", redirect)
}

// PaymentVerify handles the gateway callback. It needs no session: the
// signature is the proof.
func (h *Handler) PaymentVerify(c *fiber.Ctx) error {
	in := new(PaymentVerifyInput)
	if err := c.QueryParser(in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Review your query")
	}
	if in.Data == "" && in.TransactionUUID == "" && len(c.Body()) > 0 {
		if err := c.BodyParser(in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Review your input")
		}
	}
	req, err := in.verification()
	if err != nil {
		return err
	}

	v, err := h.Bookings.VerifyPayment(c.UserContext(), req)
	if err != nil {
		return err
	}
	message := "Payment verified successfully"
	if v.AlreadyVerified {
		message = "Payment was already verified"
	}
	return utils.Success(c, fiber.StatusOK, message, fiber.Map{
		"payment_id":     v.Payment.ID,
		"booking_id":     v.Booking.ID,
		"booking_status": v.Booking.Status,
		"payment_status": v.Payment.Status,
	})
}

func (h *Handler) PaymentStatus(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	st, err := h.Bookings.PaymentStatus(c.UserContext(), c.Params("token"), caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", st)
}

func (h *Handler) BookingApprove(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Bookings.ApproveBooking(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "Booking approved successfully", fiber.Map{"booking_id": b.ID, "status": b.Status})
}

func (h *Handler) BookingReject(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	in := new(BookingRejectInput)
	if len(c.Body()) > 0 {
		if err := h.parse(c, in); err != nil {
			return err
		}
	}
	b, err := h.Bookings.RejectBooking(c.UserContext(), id, caller, in.LandlordResponse)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "Booking rejected", fiber.Map{"booking_id": b.ID, "status": b.Status})
}
