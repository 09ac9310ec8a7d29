package database

import (
	"time"

	"gorm.io/gorm"
)

// History is one watch session of an episode
type History struct {
	ID              uint      `gorm:"primaryKey"`
	AnimeID         string    `gorm:"not null;index"`
	AnimeTitle      string    `gorm:"not null"`
	EpisodeID       string    `gorm:"not null"`
	Episode         int       `gorm:"default:0"`
	ProgressSeconds int       `gorm:"not null"`
	TotalSeconds    int       `gorm:"not null"`
	ProgressPercent float64   `gorm:"not null"`
	Quality         string    `gorm:"default:''"`
	UsedFallback    bool      `gorm:"default:false"`
	WatchedAt       time.Time `gorm:"index;default:CURRENT_TIMESTAMP"`
	Completed       bool      `gorm:"default:false"`
}

// TableName overrides the table name
func (History) TableName() string {
	return "history"
}

// Setting is a key-value row for small persisted preferences
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName overrides the table name
func (Setting) TableName() string {
	return "settings"
}

// Migrate creates or updates tables from the models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&History{}, &Setting{})
}
