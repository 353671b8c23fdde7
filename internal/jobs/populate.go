package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ephyspipe/internal/metrics"
)

// ErrNotReserved reports that another worker holds the key.
var ErrNotReserved = errors.New("jobs: key reserved elsewhere")

// Table is a derived table computed key by key.
type Table[K any] interface {
	Table() string
	KeySource(ctx context.Context) ([]K, error)
	Make(ctx context.Context, key K) error
}

// Result counts the keys of one populate pass.
type Result struct {
	Keys    int
	Done    int
	Skipped int
	Failed  int
}

// Populator carries what every populate pass shares. A nil Reserver computes
// every key without reservations.
type Populator struct {
	Reserver Reserver
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// MaxKeys stops a pass after this many keys; zero means no limit.
	MaxKeys int
}

func (p *Populator) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Populate computes every missing key of t. A failing key is logged and
// marked failed; the pass only stops early when ctx is done or the key
// source itself fails.
func Populate[K any](ctx context.Context, p *Populator, t Table[K]) (Result, error) {
	if p == nil {
		p = &Populator{}
	}
	log := p.logger()
	table := t.Table()

	keys, err := t.KeySource(ctx)
	if err != nil {
		return Result{}, err
	}
	if p.MaxKeys > 0 && len(keys) > p.MaxKeys {
		keys = keys[:p.MaxKeys]
	}
	res := Result{Keys: len(keys)}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := PopulateKey(ctx, p, t, key)
		switch {
		case err == nil:
			res.Done++
		case errors.Is(err, ErrNotReserved):
			res.Skipped++
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			res.Failed++
			log.Warn("populate key failed", zap.String("table", table), zap.Any("key", key), zap.Error(err))
		}
	}
	log.Info("populate pass finished",
		zap.String("table", table),
		zap.Int("keys", res.Keys),
		zap.Int("done", res.Done),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// PopulateKey reserves and computes a single key. It returns ErrNotReserved
// when the key is held elsewhere or its reservation could not be taken.
func PopulateKey[K any](ctx context.Context, p *Populator, t Table[K], key K) error {
	if p == nil {
		p = &Populator{}
	}
	log := p.logger()
	table := t.Table()
	hash, data, err := KeyHash(key)
	if err != nil {
		return err
	}
	if p.Reserver != nil {
		ok, err := p.Reserver.Reserve(ctx, table, hash, data)
		if err != nil {
			log.Warn("reserve key failed", zap.String("table", table), zap.ByteString("key", data), zap.Error(err))
			ok = false
		}
		if !ok {
			p.Metrics.RecordPopulate(table, metrics.OutcomeSkipped, 0)
			return ErrNotReserved
		}
	}

	start := time.Now()
	err = t.Make(ctx, key)
	elapsed := time.Since(start)
	if err != nil {
		p.Metrics.RecordPopulate(table, metrics.OutcomeFailed, elapsed)
		if p.Reserver != nil {
			if ferr := p.Reserver.Fail(ctx, table, hash, err); ferr != nil {
				log.Warn("mark job failed", zap.String("table", table), zap.Error(ferr))
			}
		}
		return fmt.Errorf("%s %s: %w", table, data, err)
	}
	p.Metrics.RecordPopulate(table, metrics.OutcomeDone, elapsed)
	if p.Reserver != nil {
		if cerr := p.Reserver.Complete(ctx, table, hash); cerr != nil {
			log.Warn("release job", zap.String("table", table), zap.Error(cerr))
		}
	}
	return nil
}
