package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

// DBReserver keeps reservations in the jobs table. Errored rows are
// reclaimed once they are older than RetryAfter.
type DBReserver struct {
	Repo       repository.JobRepository
	Owner      string
	RetryAfter time.Duration
}

func NewDBReserver(repo repository.JobRepository, retryAfter time.Duration) *DBReserver {
	return &DBReserver{Repo: repo, Owner: uuid.NewString(), RetryAfter: retryAfter}
}

func (r *DBReserver) Reserve(ctx context.Context, table, keyHash string, keyData []byte) (bool, error) {
	if r == nil || r.Repo == nil {
		return true, nil
	}
	return r.Repo.ReserveJob(ctx, &models.Job{
		Target:  table,
		KeyHash: keyHash,
		KeyData: datatypes.JSON(keyData),
		Owner:   r.Owner,
	}, r.RetryAfter)
}

func (r *DBReserver) Complete(ctx context.Context, table, keyHash string) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	return r.Repo.DeleteJob(ctx, table, keyHash, r.Owner)
}

func (r *DBReserver) Fail(ctx context.Context, table, keyHash string, cause error) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.Repo.FailJob(ctx, table, keyHash, r.Owner, msg)
}
