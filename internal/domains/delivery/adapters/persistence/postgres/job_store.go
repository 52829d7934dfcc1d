package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
)

var _ ports.JobStore = (*JobStore)(nil)

// JobStore persists delivery jobs in PostgreSQL.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

type jobRecord struct {
	OrderID     string     `gorm:"primaryKey;column:order_id"`
	Stage       int        `gorm:"primaryKey;column:stage"`
	Status      string     `gorm:"column:status"`
	DueAt       time.Time  `gorm:"column:due_at"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error"`
	PublishedAt *time.Time `gorm:"column:published_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (jobRecord) TableName() string { return "delivery_jobs" }

// Enqueue inserts the jobs, ignoring an order that already has them.
func (s *JobStore) Enqueue(ctx context.Context, jobs ...domain.Job) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	records := make([]jobRecord, 0, len(jobs))
	for _, job := range jobs {
		records = append(records, toRecord(job))
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *JobStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Where("published_at IS NULL AND due_at <= ?", now).
		Where(`(stage = 0 OR EXISTS (
			SELECT 1 FROM delivery_jobs prev
			WHERE prev.order_id = delivery_jobs.order_id
			  AND prev.stage = delivery_jobs.stage - 1
			  AND prev.published_at IS NOT NULL))`).
		Order("due_at ASC").Order("order_id ASC").Order("stage ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []jobRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, rec.toDomain())
	}
	return jobs, nil
}

func (s *JobStore) MarkPublished(ctx context.Context, orderID string, stage int, at time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("order_id = ? AND stage = ?", orderID, stage).
		Updates(map[string]any{
			"published_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

func (s *JobStore) MarkFailed(ctx context.Context, orderID string, stage int, reason string, retryAt time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("order_id = ? AND stage = ? AND published_at IS NULL", orderID, stage).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"due_at":     retryAt,
		}).Error
}

func (s *JobStore) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	completed := s.db.Model(&jobRecord{}).Select("order_id").
		Where("stage = ? AND published_at IS NOT NULL AND published_at < ?", domain.FinalStage, before)
	result := s.db.WithContext(ctx).Where("order_id IN (?)", completed).Delete(&jobRecord{})
	return result.RowsAffected, result.Error
}

func (s *JobStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres delivery job store not configured")
	}
	return nil
}

func toRecord(job domain.Job) jobRecord {
	return jobRecord{
		OrderID:     job.OrderID,
		Stage:       job.Stage,
		Status:      job.Status,
		DueAt:       job.DueAt,
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		PublishedAt: job.PublishedAt,
		CreatedAt:   time.Now().UTC(),
	}
}

func (r jobRecord) toDomain() domain.Job {
	return domain.Job{
		OrderID:     r.OrderID,
		Stage:       r.Stage,
		Status:      r.Status,
		DueAt:       r.DueAt.UTC(),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		PublishedAt: r.PublishedAt,
	}
}
