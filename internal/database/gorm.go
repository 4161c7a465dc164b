package database

import (
	"fmt"

	"whatsapp-hub/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the configured database and runs auto-migration.
// TranslateError is on so unique-constraint violations surface as
// gorm.ErrDuplicatedKey on both drivers.
func Init(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if err := db.AutoMigrate(
		&models.Channel{},
		&models.Contact{},
		&models.Message{},
		&models.Campaign{},
		&models.Tag{},
		&models.Template{},
		&models.QuickReply{},
	); err != nil {
		return nil, fmt.Errorf("auto-migration: %w", err)
	}

	log.WithField("driver", driver).Info("database initialized")
	return db, nil
}
