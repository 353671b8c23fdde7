package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/loader"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

const (
	sessionDateLayout = "2006-01-02"
	sessionTimeLayout = "15:04:05"
)

// IngestResult counts what one ingest pass did.
type IngestResult struct {
	Created int
	Skipped int
	Failed  int
}

func (r *IngestResult) add(o IngestResult) {
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// SessionIngestService registers the sessions a loader finds for each
// subject. Sessions already present (same subject, date and time) are left
// alone; new ones get session number max+1.
type SessionIngestService struct {
	Repo     repository.Repository
	Loader   loader.Loader
	Logger   *zap.Logger
	Subjects []string
}

func (s *SessionIngestService) RunOnce(ctx context.Context) (IngestResult, error) {
	var total IngestResult
	if s == nil || s.Repo == nil || s.Loader == nil {
		return total, nil
	}
	subjects := s.Subjects
	if len(subjects) == 0 {
		items, err := s.Repo.ListSubjects(ctx)
		if err != nil {
			return total, err
		}
		for _, item := range items {
			subjects = append(subjects, item.SubjectID)
		}
	}
	for _, subject := range subjects {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := s.IngestSubject(ctx, subject)
		total.add(res)
		if err != nil && s.Logger != nil {
			s.Logger.Warn("session ingest failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	return total, nil
}

func (s *SessionIngestService) IngestSubject(ctx context.Context, subject string) (IngestResult, error) {
	var res IngestResult
	sessions, err := s.Loader.LoadSessions(ctx, subject)
	if errors.Is(err, loader.ErrMissingSourceFile) {
		if s.Logger != nil {
			s.Logger.Info("no session data for subject", zap.String("subject", subject), zap.Error(err))
		}
		return res, nil
	}
	if err != nil {
		return res, err
	}

	for _, info := range sessions {
		date := info.Start.Format(sessionDateLayout)
		clock := info.Start.Format(sessionTimeLayout)
		existing, err := s.Repo.FindSession(ctx, subject, date, clock)
		if err != nil {
			return res, err
		}
		if existing != nil {
			res.Skipped++
			continue
		}
		if len(info.Files) == 0 {
			if s.Logger != nil {
				s.Logger.Warn("session without files", zap.String("subject", subject), zap.String("basename", info.Basename))
			}
			res.Failed++
			continue
		}

		var key models.SessionKey
		err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
			n, err := s.Repo.NextSessionNumberTx(ctx, tx, subject)
			if err != nil {
				return err
			}
			sess := &models.Session{
				SubjectID:   subject,
				Session:     n,
				SessionDate: date,
				SessionTime: clock,
				Username:    info.Username,
				Rig:         info.Rig,
			}
			key = sess.Key()
			inserted := &models.InsertedSession{
				SubjectID:   subject,
				Session:     n,
				LoaderName:  s.Loader.Name(),
				SessDataDir: path.Dir(info.Files[0]),
				Basename:    info.Basename,
			}
			files := make([]models.SessionFile, len(info.Files))
			for i, f := range info.Files {
				files[i] = models.SessionFile{SubjectID: subject, Session: n, Filepath: f}
			}
			return s.Repo.CreateSessionTx(ctx, tx, sess, inserted, files)
		})
		if err != nil {
			return res, fmt.Errorf("session %s %s %s: %w", subject, date, clock, err)
		}
		res.Created++
		if s.Logger != nil {
			s.Logger.Info("session created", zap.Stringer("session", key), zap.String("basename", info.Basename))
		}
	}
	return res, nil
}

// BehaviorIngestService loads trials and photostim records for sessions
// that have none yet.
type BehaviorIngestService struct {
	Repo   repository.Repository
	Loader loader.Loader
	Logger *zap.Logger
}

func (s *BehaviorIngestService) RunOnce(ctx context.Context) (IngestResult, error) {
	var res IngestResult
	if s == nil || s.Repo == nil || s.Loader == nil {
		return res, nil
	}
	name := s.Loader.Name()
	pending, err := s.Repo.ListInsertedSessions(ctx, repository.ListInsertedSessionsParams{LoaderName: &name, WithoutTrials: true})
	if err != nil {
		return res, err
	}
	for _, inserted := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := s.Ingest(ctx, inserted)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, loader.ErrMissingSourceFile):
			res.Skipped++
			if s.Logger != nil {
				s.Logger.Info("behavior files missing, skipping session",
					zap.String("subject", inserted.SubjectID), zap.Int("session", inserted.Session), zap.Error(err))
			}
		default:
			res.Failed++
			if s.Logger != nil {
				s.Logger.Warn("behavior ingest failed",
					zap.String("subject", inserted.SubjectID), zap.Int("session", inserted.Session), zap.Error(err))
			}
		}
	}
	return res, nil
}

func (s *BehaviorIngestService) Ingest(ctx context.Context, inserted models.InsertedSession) error {
	b, err := s.Loader.LoadBehavior(ctx, inserted.SessDataDir, inserted.SubjectID, inserted.Basename)
	if err != nil {
		return err
	}
	key := models.SessionKey{SubjectID: inserted.SubjectID, Session: inserted.Session}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		uid, err := s.Repo.NextTrialUIDTx(ctx, tx)
		if err != nil {
			return err
		}
		return s.Repo.CreateBehaviorTx(ctx, tx, BehaviorRecords(key, b, uid))
	})
}

// BehaviorRecords converts loader output into rows. Trial uids are assigned
// consecutively from firstUID.
func BehaviorRecords(key models.SessionKey, b *loader.Behavior, firstUID int64) repository.BehaviorRecords {
	var rec repository.BehaviorRecords
	for _, p := range b.Photostims {
		rec.Photostims = append(rec.Photostims, models.Photostim{
			SubjectID:       key.SubjectID,
			Session:         key.Session,
			PhotoStim:       p.PhotoStim,
			PhotostimDevice: p.Device,
			Power:           decimal.NewFromFloat(p.Power),
			PulseDuration:   optDecimal(p.PulseDuration),
			PulseFrequency:  optDecimal(p.PulseFrequency),
			PulsesPerTrain:  p.PulsesPerTrain,
			Waveform:        blob.Float64s(p.Waveform),
		})
		if l := p.Location; l != nil {
			rec.PhotostimLocations = append(rec.PhotostimLocations, models.PhotostimLocation{
				SubjectID:      key.SubjectID,
				Session:        key.Session,
				PhotoStim:      p.PhotoStim,
				SkullReference: l.SkullReference,
				APLocation:     decimal.NewFromFloat(l.APLocation),
				MLLocation:     decimal.NewFromFloat(l.MLLocation),
				Depth:          decimal.NewFromFloat(l.Depth),
				Theta:          decimal.NewFromFloat(l.Theta),
				Phi:            decimal.NewFromFloat(l.Phi),
				BrainArea:      l.BrainArea,
			})
		}
	}
	protocol := 0
	if len(b.Photostims) > 0 {
		protocol = b.Photostims[0].PhotoStim
	}

	for i, tr := range b.Trials {
		rec.Trials = append(rec.Trials, models.SessionTrial{
			SubjectID: key.SubjectID,
			Session:   key.Session,
			Trial:     tr.Trial,
			TrialUID:  firstUID + int64(i),
			StartTime: decimal.NewFromFloat(tr.Start).Round(4),
			StopTime:  decimal.NewFromFloat(tr.Stop).Round(4),
		})
		rec.BehaviorTrials = append(rec.BehaviorTrials, models.BehaviorTrial{
			SubjectID: key.SubjectID,
			Session:   key.Session,
			Trial:     tr.Trial,
			Task:      b.Task,
		})
		if !tr.Photostim {
			continue
		}
		rec.PhotostimTrials = append(rec.PhotostimTrials, models.PhotostimTrial{
			SubjectID: key.SubjectID, Session: key.Session, Trial: tr.Trial,
		})
		for _, ev := range tr.Events {
			rec.PhotostimEvents = append(rec.PhotostimEvents, models.PhotostimEvent{
				SubjectID:          key.SubjectID,
				Session:            key.Session,
				Trial:              tr.Trial,
				PhotostimEventID:   ev.ID,
				PhotoStim:          protocol,
				PhotostimEventTime: decimal.NewFromFloat(ev.Time).Round(3),
				Power:              decimal.NewFromFloat(ev.Power).Round(1),
			})
		}
	}
	return rec
}

func optDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

// EphysIngestService loads every probe of sessions without insertions and
// hands each to the insertion pipeline, numbering insertions from 1.
type EphysIngestService struct {
	Repo      repository.Repository
	Loader    loader.Loader
	Insertion *InsertionService
	Logger    *zap.Logger
}

func (s *EphysIngestService) RunOnce(ctx context.Context) (IngestResult, error) {
	var res IngestResult
	if s == nil || s.Repo == nil || s.Loader == nil {
		return res, nil
	}
	name := s.Loader.Name()
	pending, err := s.Repo.ListInsertedSessions(ctx, repository.ListInsertedSessionsParams{LoaderName: &name, WithoutEphys: true})
	if err != nil {
		return res, err
	}
	for _, inserted := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		n, err := s.Ingest(ctx, inserted)
		res.Created += n
		switch {
		case err == nil:
		case errors.Is(err, loader.ErrMissingSourceFile):
			res.Skipped++
			if s.Logger != nil {
				s.Logger.Info("ephys files missing, skipping session",
					zap.String("subject", inserted.SubjectID), zap.Int("session", inserted.Session), zap.Error(err))
			}
		default:
			res.Failed++
			if s.Logger != nil {
				s.Logger.Warn("ephys ingest failed",
					zap.String("subject", inserted.SubjectID), zap.Int("session", inserted.Session), zap.Error(err))
			}
		}
	}
	return res, nil
}

// Ingest returns the number of insertions written. All probes of the session
// share one transaction, so a failing probe leaves the session without
// insertions and the next run retries it whole.
func (s *EphysIngestService) Ingest(ctx context.Context, inserted models.InsertedSession) (int, error) {
	probes, err := s.Loader.LoadEphys(ctx, inserted.SessDataDir, inserted.SubjectID, inserted.Basename)
	if err != nil {
		return 0, err
	}
	key := models.SessionKey{SubjectID: inserted.SubjectID, Session: inserted.Session}
	keys, err := s.Insertion.InsertSession(ctx, key, probes, 1)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// TrackingIngestService records the tracking files of ingested sessions
// together with the devices that produced them. Frames are not decoded.
type TrackingIngestService struct {
	Repo   repository.Repository
	Loader loader.Loader
	Logger *zap.Logger
}

func (s *TrackingIngestService) RunOnce(ctx context.Context) (IngestResult, error) {
	var res IngestResult
	if s == nil || s.Repo == nil || s.Loader == nil {
		return res, nil
	}
	name := s.Loader.Name()
	pending, err := s.Repo.ListInsertedSessions(ctx, repository.ListInsertedSessionsParams{LoaderName: &name, WithoutTracking: true})
	if err != nil {
		return res, err
	}
	for _, inserted := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		key := models.SessionKey{SubjectID: inserted.SubjectID, Session: inserted.Session}
		n, err := s.Ingest(ctx, inserted)
		switch {
		case err == nil:
			res.Created++
			if s.Logger != nil {
				s.Logger.Info("tracking ingested", zap.Stringer("session", key), zap.Int("files", n))
			}
		case errors.Is(err, loader.ErrMissingSourceFile):
			res.Skipped++
		default:
			res.Failed++
			if s.Logger != nil {
				s.Logger.Warn("tracking ingest failed", zap.Stringer("session", key), zap.Error(err))
			}
		}
	}
	return res, nil
}

// Ingest writes one session's tracking rows and returns the file count.
func (s *TrackingIngestService) Ingest(ctx context.Context, inserted models.InsertedSession) (int, error) {
	key := models.SessionKey{SubjectID: inserted.SubjectID, Session: inserted.Session}
	sess, err := s.Repo.GetSession(ctx, key)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, fmt.Errorf("session %s not found", key)
	}
	start, err := time.Parse(sessionDateLayout+" "+sessionTimeLayout, sess.SessionDate+" "+sess.SessionTime)
	if err != nil {
		return 0, fmt.Errorf("session %s start: %w", key, err)
	}
	items, err := s.Loader.LoadTracking(ctx, inserted.SessDataDir, inserted.SubjectID, start)
	if err != nil {
		return 0, err
	}

	var (
		devices []models.TrackingDevice
		files   []models.TrackingFile
		seen    = map[string]bool{}
	)
	for _, tr := range items {
		if !seen[tr.Device] {
			seen[tr.Device] = true
			devices = append(devices, models.TrackingDevice{
				TrackingDevice: tr.Device,
				SamplingRate:   decimal.NewFromFloat(tr.FPS).Round(4),
			})
		}
		for _, f := range tr.Files {
			files = append(files, models.TrackingFile{
				SubjectID: key.SubjectID, Session: key.Session,
				Filepath: filepath.ToSlash(f), TrackingDevice: tr.Device,
			})
		}
	}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.CreateTrackingIngestionTx(ctx, tx,
			&models.TrackingIngestion{SubjectID: key.SubjectID, Session: key.Session}, devices, files)
	})
	if err != nil {
		return 0, fmt.Errorf("tracking %s: %w", key, err)
	}
	return len(files), nil
}
