package repositories

import (
	"context"
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-artnet/internal/database/models"
)

// FirmwareJobRepository handles firmware upload history.
type FirmwareJobRepository struct {
	db *gorm.DB
}

// NewFirmwareJobRepository creates a new FirmwareJobRepository.
func NewFirmwareJobRepository(db *gorm.DB) *FirmwareJobRepository {
	return &FirmwareJobRepository{db: db}
}

// Start records a running upload.
func (r *FirmwareJobRepository) Start(ctx context.Context, peerIP string, ubea bool, words int) (*models.FirmwareJob, error) {
	job := models.FirmwareJob{
		ID:     cuid.New(),
		PeerIP: peerIP,
		UBEA:   ubea,
		Words:  words,
		Status: models.FirmwareJobRunning,
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Finish marks the running job for peerIP as done or failed.
func (r *FirmwareJobRepository) Finish(ctx context.Context, peerIP string, ok bool, bytesSent int) error {
	status := models.FirmwareJobFailed
	if ok {
		status = models.FirmwareJobDone
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.FirmwareJob{}).
		Where("peer_ip = ? AND status = ?", peerIP, models.FirmwareJobRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"bytes_sent":  bytesSent,
			"finished_at": &now,
		}).Error
}

// FindRecent returns the latest jobs, newest first.
func (r *FirmwareJobRepository) FindRecent(ctx context.Context, limit int) ([]models.FirmwareJob, error) {
	var jobs []models.FirmwareJob
	result := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&jobs)
	return jobs, result.Error
}
