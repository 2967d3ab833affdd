// Package storage is the canonical place for everything that touches the
// database: connection setup, migration and the persistence gateway the
// engine consumes.
package storage

import (
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meridianlabs/postvault/model"
)

// GetDBConnection gets a connection to the database specified by env.
func GetDBConnection() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"), os.Getenv("DB_USER"), os.Getenv("DB_PASS"),
		os.Getenv("DB_NAME"), os.Getenv("DB_PORT"))
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// Migrate creates or updates the schema for all engine-owned tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Post{}, &model.Job{}, &model.AccountClaim{})
}
