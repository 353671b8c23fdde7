package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// ReserveJob claims (job.Target, job.KeyHash) for job.Owner. A key held as
// reserved is never taken over; a key left in error is reclaimed once it is
// older than retryAfter.
func (s *Store) ReserveJob(ctx context.Context, job *models.Job, retryAfter time.Duration) (bool, error) {
	if s == nil || s.db == nil || job == nil {
		return false, nil
	}
	reserved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		job.Status = models.JobReserved
		job.CreatedAt = now
		job.UpdatedAt = now
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(job)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			reserved = true
			return nil
		}
		if retryAfter <= 0 {
			return nil
		}
		res = tx.Model(&models.Job{}).
			Where("table_name = ? AND key_hash = ?", job.Target, job.KeyHash).
			Where("status = ?", models.JobError).
			Where("updated_at < ?", now.Add(-retryAfter)).
			Updates(map[string]any{
				"status":        models.JobReserved,
				"owner":         job.Owner,
				"error_message": "",
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		reserved = res.RowsAffected > 0
		return nil
	})
	return reserved, err
}

func (s *Store) DeleteJob(ctx context.Context, target, keyHash, owner string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("table_name = ? AND key_hash = ? AND owner = ?", target, keyHash, owner).
		Delete(&models.Job{}).Error
}

func (s *Store) FailJob(ctx context.Context, target, keyHash, owner, message string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if len(message) > 2048 {
		message = message[:2048]
	}
	return s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("table_name = ? AND key_hash = ? AND owner = ?", target, keyHash, owner).
		Updates(map[string]any{
			"status":        models.JobError,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (s *Store) ListJobs(ctx context.Context, params repository.ListJobsParams) ([]models.Job, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Job
	if err := jobQuery(s.db.WithContext(ctx), params).
		Order("updated_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountJobs(ctx context.Context, params repository.ListJobsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := jobQuery(s.db.WithContext(ctx), params).Count(&n).Error
	return n, err
}

func jobQuery(db *gorm.DB, params repository.ListJobsParams) *gorm.DB {
	query := db.Model(&models.Job{})
	if params.Target != nil && strings.TrimSpace(*params.Target) != "" {
		query = query.Where("table_name = ?", strings.TrimSpace(*params.Target))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}
