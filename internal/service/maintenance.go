package service

import (
	"context"
	"time"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Reindexer defines the write-path operations maintenance depends on.
type Reindexer interface {
	ReindexAll(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// ReviewRegistry lists documents due for content review.
type ReviewRegistry interface {
	ListIndexedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Document, error)
}

// MaintenanceConfig controls maintenance cadence thresholds.
type MaintenanceConfig struct {
	// ReviewAge flags documents not reindexed within this window.
	ReviewAge time.Duration
}

// DefaultMaintenanceConfig provides sane defaults for maintenance.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{ReviewAge: 180 * 24 * time.Hour}
}

// ReviewItem is one document flagged by the content review pass.
type ReviewItem struct {
	DocumentID string    `json:"document_id"`
	Revision   int64     `json:"revision"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// MaintenanceService exposes the operations the maintenance collaborator
// invokes: reindex, content review and health check.
type MaintenanceService struct {
	reindexer Reindexer
	registry  ReviewRegistry
	clock     func() time.Time
	cfg       MaintenanceConfig
}

// NewMaintenanceService creates a new MaintenanceService instance
func NewMaintenanceService(reindexer Reindexer, registry ReviewRegistry, cfg MaintenanceConfig) *MaintenanceService {
	return &MaintenanceService{
		reindexer: reindexer,
		registry:  registry,
		clock:     time.Now,
		cfg:       cfg,
	}
}

// ReindexAll rebuilds vectors for every registered document.
func (s *MaintenanceService) ReindexAll(ctx context.Context) (int, error) {
	return s.reindexer.ReindexAll(ctx)
}

// ContentReview lists documents whose index entries have aged past the
// review window.
func (s *MaintenanceService) ContentReview(ctx context.Context) ([]ReviewItem, error) {
	cutoff := s.clock().Add(-s.cfg.ReviewAge)
	docs, err := s.registry.ListIndexedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	items := make([]ReviewItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, ReviewItem{
			DocumentID: d.ID,
			Revision:   d.Revision,
			IndexedAt:  d.IndexedAt,
		})
	}
	return items, nil
}

// HealthCheck reports index reachability and last successful write time.
func (s *MaintenanceService) HealthCheck(ctx context.Context) HealthStatus {
	return s.reindexer.HealthCheck(ctx)
}
