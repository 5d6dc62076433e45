package database

import (
	"fmt"

	"roombox-service/config"
	"roombox-service/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Postgres *gorm.DB

func PostgresConnect(log *zap.Logger) error {
	var err error
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Config("POSTGRES_HOST"),
		config.Config("POSTGRES_PORT"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
		config.Default("POSTGRES_SSLMODE", "disable"),
	)
	Postgres, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	log.Info("connection opened to postgres")

	if err := Migrate(Postgres); err != nil {
		return err
	}
	log.Info("postgres database migrated")
	return nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Room{},
		&model.ChatChannel{},
		&model.ChatMessage{},
		&model.Booking{},
		&model.Payment{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
