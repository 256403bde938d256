package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-artnet/internal/database/models"
)

// NodeRepository handles the discovered peer journal.
type NodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// FindAll returns every peer ever seen, most recent first.
func (r *NodeRepository) FindAll(ctx context.Context) ([]models.NodeRecord, error) {
	var nodes []models.NodeRecord
	result := r.db.WithContext(ctx).
		Order("last_seen DESC").
		Find(&nodes)
	return nodes, result.Error
}

// FindByIP returns the record for ip, or nil.
func (r *NodeRepository) FindByIP(ctx context.Context, ip string) (*models.NodeRecord, error) {
	var node models.NodeRecord
	result := r.db.WithContext(ctx).First(&node, "ip = ?", ip)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &node, nil
}

// Upsert stores rec keyed by IP, keeping the original ID and first-seen
// time of an existing record.
func (r *NodeRepository) Upsert(ctx context.Context, rec models.NodeRecord) (*models.NodeRecord, error) {
	existing, err := r.FindByIP(ctx, rec.IP)
	if err != nil {
		return nil, err
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}

	if existing == nil {
		rec.ID = cuid.New()
		if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	}

	rec.ID = existing.ID
	rec.FirstSeen = existing.FirstSeen
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteStale removes peers not seen since before.
func (r *NodeRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&models.NodeRecord{}, "last_seen < ?", before)
	return result.RowsAffected, result.Error
}

// DeleteAll clears the journal.
func (r *NodeRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&models.NodeRecord{}).Error
}
