package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roombox-service/model"

	"gorm.io/gorm"
)

func (r *Repository) Channel(ctx context.Context, id uint) (model.ChatChannel, error) {
	return first[model.ChatChannel](r.db.WithContext(ctx), "chat channel", id)
}

func (r *Repository) ChannelByTriple(ctx context.Context, listingID, tenantID, landlordID uint) (model.ChatChannel, error) {
	return first[model.ChatChannel](r.db.WithContext(ctx).Where(&model.ChatChannel{
		ListingID:  listingID,
		TenantID:   tenantID,
		LandlordID: landlordID,
	}), "chat channel")
}

func (r *Repository) CreateChannel(ctx context.Context, ch *model.ChatChannel) error {
	if err := r.db.WithContext(ctx).Create(ch).Error; err != nil {
		return fmt.Errorf("create chat channel: %w", err)
	}
	return nil
}

// ChannelsByUser lists channels where userID is either side, most recently active first.
func (r *Repository) ChannelsByUser(ctx context.Context, userID uint) ([]model.ChatChannel, error) {
	var out []model.ChatChannel
	err := r.db.WithContext(ctx).
		Preload("Tenant").
		Preload("Landlord").
		Preload("Listing").
		Where("tenant_id = ? OR landlord_id = ?", userID, userID).
		Order("updated_at desc").
		Order("id desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chat channels: %w", err)
	}
	return out, nil
}

// CreateMessage appends msg and bumps the channel's activity time in one transaction.
func (r *Repository) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create chat message: %w", err)
		}
		err := tx.Model(&model.ChatChannel{}).
			Where("id = ?", msg.ChannelID).
			Update("updated_at", time.Now()).Error
		if err != nil {
			return fmt.Errorf("touch chat channel: %w", err)
		}
		return nil
	})
}

func (r *Repository) MessageByClientKey(ctx context.Context, channelID, senderID uint, key string) (model.ChatMessage, error) {
	return first[model.ChatMessage](r.db.WithContext(ctx).
		Where("channel_id = ? AND sender_id = ? AND client_key = ?", channelID, senderID, key),
		"chat message")
}

// Messages returns one page of history. Pages are counted from the newest
// message backwards; messages within a page are oldest first.
func (r *Repository) Messages(ctx context.Context, channelID uint, offset, limit int) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LastMessage returns the newest message of a channel, if any.
func (r *Repository) LastMessage(ctx context.Context, channelID uint) (*model.ChatMessage, error) {
	msg, err := first[model.ChatMessage](r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("id desc"), "chat message")
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Repository) UnreadCount(ctx context.Context, channelID, readerID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("channel_id = ? AND sender_id <> ? AND read = ?", channelID, readerID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

// MarkRead flags every message in the channel not sent by readerID as read.
func (r *Repository) MarkRead(ctx context.Context, channelID, readerID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("channel_id = ? AND sender_id <> ? AND read = ?", channelID, readerID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
