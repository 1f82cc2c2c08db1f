package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Acidsyd/BOB-inbox-sub000/internal/config"
	"github.com/Acidsyd/BOB-inbox-sub000/internal/models"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func runMigrations() error {
	if err := DB.AutoMigrate(
		&models.Campaign{},
		&models.SequenceStep{},
		&models.SenderAccount{},
		&models.Recipient{},
		&models.SendTask{},
		&models.DeliveryEvent{},
	); err != nil {
		return err
	}

	// One live task per (campaign, recipient, step). The reconciler enforces
	// this in code; the partial index is the backstop that keeps a racing
	// writer from ever persisting a duplicate.
	return DB.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_send_tasks_live_key
		ON send_tasks (campaign_id, recipient_id, step_index)
		WHERE status IN ('SCHEDULED', 'SENDING')
	`).Error
}

func GetDB() *gorm.DB {
	return DB
}

func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
