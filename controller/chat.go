package controller

import (
	"roombox-service/chat"
	"roombox-service/middleware"
	"roombox-service/utils"

	"github.com/gofiber/fiber/v2"
)

type ChatCreateInput struct {
	RoomID     uint `json:"room_id" validate:"required"`
	LandlordID uint `json:"landlord_id"`
}

type ChatSendInput struct {
	Body           string `json:"body" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

type ChatHistoryQuery struct {
	Page  int `query:"page"`
	Limit int `query:"limit"`
}

// ChatCreateRoom opens the caller's conversation with a listing's landlord,
// or returns the one that already exists.
func (h *Handler) ChatCreateRoom(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	in := new(ChatCreateInput)
	if err := h.parse(c, in); err != nil {
		return err
	}

	ch, created, err := h.Channels.GetOrCreateChannel(c.UserContext(), in.RoomID, in.LandlordID, caller)
	if err != nil {
		return err
	}
	if created {
		return utils.Success(c, fiber.StatusCreated, "Chat room created", ch)
	}
	return utils.Success(c, fiber.StatusOK, "Chat room already exists", ch)
}

func (h *Handler) ChatRooms(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	rooms, err := h.Channels.Channels(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", rooms)
}

func (h *Handler) ChatRoom(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ch, err := h.Channels.Channel(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", ch)
}

func (h *Handler) ChatMessages(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	q := new(ChatHistoryQuery)
	if err := c.QueryParser(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Review your query")
	}

	msgs, err := h.Channels.History(c.UserContext(), chat.ListMessages{
		ChannelID: id,
		CallerID:  caller,
		Page:      q.Page,
		Limit:     q.Limit,
	})
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", msgs)
}

// ChatSendMessage is the HTTP fallback for clients without a live socket.
// Joined sessions still receive the message.
func (h *Handler) ChatSendMessage(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	in := new(ChatSendInput)
	if err := h.parse(c, in); err != nil {
		return err
	}

	msg, err := h.Broker.Send(c.UserContext(), chat.SendMessage{
		ChannelID:      id,
		SenderID:       caller,
		Body:           in.Body,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusCreated, "Message sent", msg)
}

func (h *Handler) ChatMarkRead(c *fiber.Ctx) error {
	caller, err := middleware.CallerID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.Broker.MarkRead(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, "", fiber.Map{"channel_id": id, "marked": n})
}
