// Package repository is the gorm-backed persistence gateway for users,
// listings, chat channels, messages, bookings and payments.
package repository

import (
	"context"
	"errors"
	"fmt"

	"roombox-service/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn against a repository bound to a single database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// forUpdate adds a row lock where the dialect supports one. SQLite serializes
// writers on its own.
func (r *Repository) forUpdate(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func first[T any](db *gorm.DB, what string, conds ...any) (T, error) {
	var out T
	if err := db.First(&out, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return out, fmt.Errorf("query %s: %w", what, err)
	}
	return out, nil
}

func (r *Repository) User(ctx context.Context, id uint) (model.User, error) {
	return first[model.User](r.db.WithContext(ctx), "user", id)
}

func (r *Repository) Room(ctx context.Context, id uint) (model.Room, error) {
	return first[model.Room](r.db.WithContext(ctx), "room", id)
}

func (r *Repository) RoomForUpdate(ctx context.Context, id uint) (model.Room, error) {
	return first[model.Room](r.forUpdate(ctx), "room", id)
}

// DecrementAvailableRooms takes one room off the listing. It reports false,
// without touching the row, when none are left.
func (r *Repository) DecrementAvailableRooms(ctx context.Context, roomID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Room{}).
		Where("id = ? AND available_rooms > 0", roomID).
		Update("available_rooms", gorm.Expr("available_rooms - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("decrement available rooms: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) SetRoomStatus(ctx context.Context, roomID uint, status model.RoomStatus) error {
	err := r.db.WithContext(ctx).
		Model(&model.Room{}).
		Where("id = ?", roomID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("set room status: %w", err)
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, u *model.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repository) SaveUser(ctx context.Context, u *model.User) error {
	if err := r.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (model.User, error) {
	return first[model.User](r.db.WithContext(ctx).Where("email = ?", email), "user")
}

func (r *Repository) UserByUsername(ctx context.Context, username string) (model.User, error) {
	return first[model.User](r.db.WithContext(ctx).Where("username = ?", username), "user")
}
