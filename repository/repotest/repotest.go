// Package repotest opens throwaway SQLite databases with the service schema for tests.
package repotest

import (
	"path/filepath"
	"testing"

	"roombox-service/database"
	"roombox-service/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated database in t's temp dir. A single connection keeps
// SQLite writers from tripping over each other under concurrent tests.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "roombox.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func CreateUser(t testing.TB, db *gorm.DB, username, role string) model.User {
	t.Helper()
	u := model.User{
		Username: username,
		Email:    username + "@roombox.test",
		FullName: username,
		Password: "x",
		Role:     role,
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// Listing describes the priced fields of a test room.
type Listing struct {
	Rent, Deposit, Advance int64
	Available              int
}

func CreateRoom(t testing.TB, db *gorm.DB, owner model.User, l Listing) model.Room {
	t.Helper()
	r := model.Room{
		OwnerID:         owner.ID,
		Title:           "Room in Baneshwor",
		City:            "Kathmandu",
		PricePerMonth:   decimal.NewFromInt(l.Rent),
		SecurityDeposit: decimal.NewFromInt(l.Deposit),
		AdvancePayment:  decimal.NewFromInt(l.Advance),
		TotalRooms:      l.Available,
		AvailableRooms:  l.Available,
		Status:          model.RoomAvailable,
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}
