package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

var ErrNotFound = errors.New("media record not found")

// Store is the gorm-backed media record store.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, rec *MediaRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create media record: %w", err)
	}
	return nil
}

func (s *Store) FindByPath(ctx context.Context, relativePath string) (*MediaRecord, error) {
	var rec MediaRecord
	err := s.db.WithContext(ctx).Where("relative_path = ?", relativePath).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media record: %w", err)
	}
	return &rec, nil
}

func (s *Store) FindByPost(ctx context.Context, postID string) ([]MediaRecord, error) {
	var recs []MediaRecord
	if err := s.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("find post media: %w", err)
	}
	return recs, nil
}

// FindOrphans returns records never attached to a post and created before cutoff.
func (s *Store) FindOrphans(ctx context.Context, cutoff time.Time) ([]MediaRecord, error) {
	var recs []MediaRecord
	err := s.db.WithContext(ctx).
		Where("post_id IS NULL AND created_at < ?", cutoff).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("find orphaned media: %w", err)
	}
	return recs, nil
}

// ReferencedPaths lists the path columns of every record.
func (s *Store) ReferencedPaths(ctx context.Context) ([]MediaRecord, error) {
	var recs []MediaRecord
	err := s.db.WithContext(ctx).
		Select("id", "relative_path", "mime_type", "preview_path", "blur_path", "preview_video_path").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list media paths: %w", err)
	}
	return recs, nil
}

// AttachToPost associates records with a post, taking them out of reaper scope.
func (s *Store) AttachToPost(ctx context.Context, postID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&MediaRecord{}).Where("id IN ?", ids).Update("post_id", postID).Error
	if err != nil {
		return fmt.Errorf("attach media to post: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&MediaRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete media record %s: %w", id, err)
	}
	return nil
}

// SettingsSource reads and writes the storage settings row.
type SettingsSource struct {
	db *gorm.DB
}

func NewSettingsSource(db *gorm.DB) *SettingsSource {
	return &SettingsSource{db: db}
}

func (s *SettingsSource) Load(ctx context.Context) (settings.StorageConfig, error) {
	var row StorageSettings
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if err != nil {
		return settings.StorageConfig{}, fmt.Errorf("load storage settings: %w", err)
	}
	return row.Config(), nil
}

// Save upserts the settings row. Callers must invalidate the provider afterwards.
func (s *SettingsSource) Save(ctx context.Context, cfg settings.StorageConfig) error {
	row := settingsRow(cfg)
	row.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save storage settings: %w", err)
	}
	return nil
}
