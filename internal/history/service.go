// Package history records how far each episode was watched
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/justchokingaround/ciphertv/internal/database"
	"gorm.io/gorm"
)

// DefaultCompletedPercent marks an entry watched when no threshold is configured
const DefaultCompletedPercent = 90.0

// resumeFloor avoids resuming a few seconds into an episode
const resumeFloor = 10

// Service provides history management functionality
type Service struct {
	db               *gorm.DB
	completedPercent float64
}

// Entry is the progress of one watch session
type Entry struct {
	AnimeID      string
	Title        string
	EpisodeID    string
	Episode      int
	Position     float64 // seconds
	Duration     float64 // seconds
	Quality      string
	UsedFallback bool
}

// Item is a stored history row as presented to callers
type Item struct {
	ID              uint
	AnimeID         string
	AnimeTitle      string
	EpisodeID       string
	Episode         int
	ProgressSeconds int
	TotalSeconds    int
	ProgressPercent float64
	Quality         string
	UsedFallback    bool
	WatchedAt       time.Time
	Completed       bool
}

// Stats summarises the history table
type Stats struct {
	TotalItems     int64
	CompletedCount int64
	TotalWatchTime time.Duration
}

// NewService creates a new history service
func NewService(db *gorm.DB, completedPercent float64) *Service {
	if completedPercent <= 0 || completedPercent > 100 {
		completedPercent = DefaultCompletedPercent
	}
	return &Service{db: db, completedPercent: completedPercent}
}

// Record stores the progress of a watch session. An unfinished episode
// updates its latest incomplete row; finishing it replaces those rows with a
// completed one.
func (s *Service) Record(e Entry) (*Item, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if e.AnimeID == "" || e.EpisodeID == "" {
		return nil, fmt.Errorf("history entry needs an anime and episode id")
	}

	var percent float64
	if e.Duration > 0 {
		percent = min(e.Position/e.Duration*100, 100)
	}
	row := database.History{
		AnimeID:         e.AnimeID,
		AnimeTitle:      e.Title,
		EpisodeID:       e.EpisodeID,
		Episode:         e.Episode,
		ProgressSeconds: int(e.Position),
		TotalSeconds:    int(e.Duration),
		ProgressPercent: percent,
		Quality:         e.Quality,
		UsedFallback:    e.UsedFallback,
		WatchedAt:       time.Now(),
		Completed:       percent >= s.completedPercent,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		incomplete := tx.Where("anime_id = ? AND episode_id = ? AND completed = ?", e.AnimeID, e.EpisodeID, false)

		if !row.Completed {
			var existing database.History
			err := incomplete.Order("watched_at DESC").First(&existing).Error
			if err == nil {
				row.ID = existing.ID
				return tx.Save(&row).Error
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return tx.Create(&row).Error
		}

		if err := incomplete.Delete(&database.History{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record history: %w", err)
	}

	item := toItem(row)
	return &item, nil
}

// Recent returns the latest entries, newest first. limit <= 0 returns all.
func (s *Service) Recent(limit int) ([]Item, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := s.db.Model(&database.History{}).Order("watched_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []database.History
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	items := make([]Item, len(rows))
	for i, r := range rows {
		items[i] = toItem(r)
	}
	return items, nil
}

// ResumePosition returns where an unfinished episode was left, or 0
func (s *Service) ResumePosition(animeID, episodeID string) (float64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	var row database.History
	err := s.db.Where("anime_id = ? AND episode_id = ?", animeID, episodeID).
		Order("watched_at DESC").Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up history: %w", err)
	}
	if row.Completed || row.ProgressSeconds < resumeFloor {
		return 0, nil
	}
	return float64(row.ProgressSeconds), nil
}

// DeleteByID removes a history item by ID
func (s *Service) DeleteByID(id uint) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Delete(&database.History{}, id).Error
}

// Clear removes every entry
func (s *Service) Clear() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Where("1 = 1").Delete(&database.History{}).Error
}

// GetStats retrieves watch history statistics
func (s *Service) GetStats() (*Stats, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var stats Stats
	if err := s.db.Model(&database.History{}).Count(&stats.TotalItems).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&database.History{}).Where("completed = ?", true).Count(&stats.CompletedCount).Error; err != nil {
		return nil, err
	}

	var seconds int64
	if err := s.db.Model(&database.History{}).Select("COALESCE(SUM(progress_seconds), 0)").Scan(&seconds).Error; err != nil {
		return nil, err
	}
	stats.TotalWatchTime = time.Duration(seconds) * time.Second
	return &stats, nil
}

func toItem(r database.History) Item {
	return Item{
		ID:              r.ID,
		AnimeID:         r.AnimeID,
		AnimeTitle:      r.AnimeTitle,
		EpisodeID:       r.EpisodeID,
		Episode:         r.Episode,
		ProgressSeconds: r.ProgressSeconds,
		TotalSeconds:    r.TotalSeconds,
		ProgressPercent: r.ProgressPercent,
		Quality:         r.Quality,
		UsedFallback:    r.UsedFallback,
		WatchedAt:       r.WatchedAt,
		Completed:       r.Completed,
	}
}
