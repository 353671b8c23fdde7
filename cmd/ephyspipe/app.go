package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ephyspipe/internal/config"
	"ephyspipe/internal/db"
	"ephyspipe/internal/ephys"
	"ephyspipe/internal/jobs"
	"ephyspipe/internal/jrclust/h5"
	"ephyspipe/internal/loader"
	"ephyspipe/internal/logger"
	"ephyspipe/internal/metrics"
	gormrepository "ephyspipe/internal/repository/gorm"
	"ephyspipe/internal/service"
	"ephyspipe/internal/trialcond"
)

// app holds what every subcommand shares, built once in the root
// command's pre-run.
type app struct {
	cfgPath string
	envOnly bool

	cfg     config.Config
	log     *zap.Logger
	db      *db.DB
	store   *gormrepository.Store
	metrics *metrics.Metrics
	closers []func() error

	reserverOnce sync.Once
	jobReserver  jobs.Reserver
	reserverErr  error
}

func (a *app) init() error {
	if a.cfgPath == "" {
		a.cfgPath = os.Getenv("EPHYS_CONFIG")
	}
	if a.cfgPath == "" {
		a.cfgPath = "config/config.yaml"
	}
	if raw := os.Getenv("EPHYS_ENV_ONLY"); raw != "" {
		a.envOnly = a.envOnly || strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(a.cfgPath, a.envOnly)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	a.log = log

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	a.db = dbConn
	a.closers = append(a.closers, func() error { return db.Close(dbConn) })
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	a.store = gormrepository.New(dbConn.Gorm)

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) loader() (loader.Loader, error) {
	in := a.cfg.Ingest
	return loader.New(in.Loader, in.RootDataDir, in.Username, in.Rig, h5.Open)
}

// reserver is built on first use and shared by every populate pass of the
// process.
func (a *app) reserver() (jobs.Reserver, error) {
	a.reserverOnce.Do(func() {
		a.jobReserver, a.reserverErr = a.newReserver()
	})
	return a.jobReserver, a.reserverErr
}

func (a *app) newReserver() (jobs.Reserver, error) {
	jc := a.cfg.Jobs
	switch strings.ToLower(strings.TrimSpace(jc.Backend)) {
	case "", "db":
		return jobs.NewDBReserver(a.store, jc.RetryAfter), nil
	case "redis":
		r := jobs.NewRedisReserver(&redis.Options{
			Addr:     jc.Redis.Addr,
			Password: jc.Redis.Password,
			DB:       jc.Redis.DB,
		}, jc.Redis.Prefix, jc.TTL, jc.RetryAfter)
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported jobs backend %q", jc.Backend)
	}
}

func (a *app) populator(maxKeys int) (*jobs.Populator, error) {
	r, err := a.reserver()
	if err != nil {
		return nil, err
	}
	return &jobs.Populator{Reserver: r, Logger: a.log, Metrics: a.metrics, MaxKeys: maxKeys}, nil
}

func (a *app) insertionService() *service.InsertionService {
	return &service.InsertionService{
		Repo:     a.store,
		Resolver: &service.ElectrodeConfigResolver{Repo: a.store, Logger: a.log},
		Logger:   a.log,
	}
}

func (a *app) psthService() *service.PsthService {
	return &service.PsthService{
		Repo:     a.store,
		Registry: trialcond.NewRegistry(),
		Logger:   a.log,
		Params: ephys.PsthParams{
			XMin:    a.cfg.PSTH.XMin,
			XMax:    a.cfg.PSTH.XMax,
			BinSize: a.cfg.PSTH.BinSize,
		},
	}
}

func (a *app) statParams() ephys.StatParams {
	return ephys.StatParams{MinISI: a.cfg.Stats.MinISI, ISIThreshold: a.cfg.Stats.ISIThreshold}
}
