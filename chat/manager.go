package chat

import (
	"context"
	"errors"
	"fmt"

	"roombox-service/errs"
	"roombox-service/keylock"
	"roombox-service/model"
	"roombox-service/repository"

	"go.uber.org/zap"
)

type Manager struct {
	store   Store
	log     *zap.Logger
	opening *keylock.Map[[3]uint]
}

func NewManager(store Store, log *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		log:     log,
		opening: keylock.New[[3]uint](),
	}
}

// GetOrCreateChannel returns the channel between callerID, as tenant, and the
// listing's landlord, opening it on first contact. landlordID may be zero to
// mean the listing owner.
func (m *Manager) GetOrCreateChannel(ctx context.Context, listingID, landlordID, callerID uint) (model.ChatChannel, bool, error) {
	var out model.ChatChannel

	if callerID == 0 {
		return out, false, errs.Unauthenticated
	}
	if listingID == 0 {
		return out, false, errs.NewInvalidArgumentError("listing_id", "listing is required")
	}

	listing, err := m.store.Room(ctx, listingID)
	if errors.Is(err, repository.ErrNotFound) {
		return out, false, errs.NewNotFoundError("listing not found")
	}
	if err != nil {
		return out, false, err
	}

	if listing.OwnerID == callerID {
		return out, false, errs.NewPermissionDeniedError("listing owners cannot open a chat with themselves")
	}
	if landlordID == 0 {
		landlordID = listing.OwnerID
	}
	if landlordID != listing.OwnerID {
		return out, false, errs.NewInvalidArgumentError("landlord_id", "landlord does not own this listing")
	}

	key := [3]uint{listingID, callerID, landlordID}
	unlock := m.opening.Lock(key)
	defer unlock()

	out, err = m.store.ChannelByTriple(ctx, listingID, callerID, landlordID)
	if err == nil {
		return out, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return out, false, err
	}

	out = model.ChatChannel{
		ListingID:  listingID,
		TenantID:   callerID,
		LandlordID: landlordID,
	}
	if err := m.store.CreateChannel(ctx, &out); err != nil {
		// another instance may have won the unique index
		if existing, lookupErr := m.store.ChannelByTriple(ctx, listingID, callerID, landlordID); lookupErr == nil {
			return existing, false, nil
		}
		return out, false, err
	}

	m.log.Info("chat channel opened",
		zap.Uint("channel_id", out.ID),
		zap.Uint("listing_id", listingID),
		zap.Uint("tenant_id", callerID),
		zap.Uint("landlord_id", landlordID))

	return out, true, nil
}

// Channel loads a channel the caller takes part in.
func (m *Manager) Channel(ctx context.Context, channelID, callerID uint) (model.ChatChannel, error) {
	return participantChannel(ctx, m.store, channelID, callerID)
}

type ChannelSummary struct {
	model.ChatChannel
	CounterpartID   uint               `json:"counterpart_id"`
	CounterpartName string             `json:"counterpart_name"`
	ListingTitle    string             `json:"listing_title"`
	LastMessage     *model.ChatMessage `json:"last_message"`
	UnreadCount     int64              `json:"unread_count"`
}

// Channels lists the caller's conversations, most recently active first.
func (m *Manager) Channels(ctx context.Context, callerID uint) ([]ChannelSummary, error) {
	if callerID == 0 {
		return nil, errs.Unauthenticated
	}

	channels, err := m.store.ChannelsByUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	out := make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		last, err := m.store.LastMessage(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		unread, err := m.store.UnreadCount(ctx, ch.ID, callerID)
		if err != nil {
			return nil, err
		}
		counterpart := ch.Landlord
		if callerID == ch.LandlordID {
			counterpart = ch.Tenant
		}
		out = append(out, ChannelSummary{
			ChatChannel:     ch,
			CounterpartID:   ch.Counterpart(callerID),
			CounterpartName: counterpart.DisplayName(),
			ListingTitle:    ch.Listing.Title,
			LastMessage:     last,
			UnreadCount:     unread,
		})
	}
	return out, nil
}

type ListMessages struct {
	ChannelID uint
	CallerID  uint
	Page      int
	Limit     int
}

func (in *ListMessages) Validate() error {
	if in.Page == 0 {
		in.Page = 1
	}
	if in.Limit == 0 {
		in.Limit = DefaultHistoryLimit
	}
	if in.Page < 1 {
		return errs.NewInvalidArgumentError("page", "page must be at least 1")
	}
	if in.Limit < 1 || in.Limit > MaxHistoryLimit {
		return errs.NewInvalidArgumentError("limit", fmt.Sprintf("limit must be between 1 and %d", MaxHistoryLimit))
	}
	return nil
}

// History is the durable read path; clients reconcile with it after (re)joining.
func (m *Manager) History(ctx context.Context, in ListMessages) ([]model.ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := participantChannel(ctx, m.store, in.ChannelID, in.CallerID); err != nil {
		return nil, err
	}
	return m.store.Messages(ctx, in.ChannelID, (in.Page-1)*in.Limit, in.Limit)
}

func participantChannel(ctx context.Context, store Store, channelID, userID uint) (model.ChatChannel, error) {
	if userID == 0 {
		return model.ChatChannel{}, errs.Unauthenticated
	}
	ch, err := store.Channel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return ch, errs.NewNotFoundError("chat channel not found")
	}
	if err != nil {
		return ch, err
	}
	if !ch.HasParticipant(userID) {
		return ch, errs.NotParticipant
	}
	return ch, nil
}

// Counterparts returns the other party of every channel userID is in.
func (m *Manager) Counterparts(ctx context.Context, userID uint) ([]uint, error) {
	channels, err := m.store.ChannelsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]bool, len(channels))
	out := make([]uint, 0, len(channels))
	for _, ch := range channels {
		id := ch.Counterpart(userID)
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
