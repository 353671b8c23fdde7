package gormrepository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ephyspipe/internal/blob"
	"ephyspipe/internal/db/dbtest"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(dbtest.Open(t).Gorm)
}

func seedSession(t *testing.T, s *Store, subject string, trials int) models.SessionKey {
	t.Helper()
	ctx := context.Background()
	var key models.SessionKey
	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		n, err := s.NextSessionNumberTx(ctx, tx, subject)
		if err != nil {
			return err
		}
		sess := &models.Session{SubjectID: subject, Session: n, SessionDate: "2020-01-02", SessionTime: "10:00:0" + string(rune('0'+n))}
		key = sess.Key()
		if err := s.CreateSessionTx(ctx, tx, sess, &models.InsertedSession{SubjectID: subject, Session: n, LoaderName: "test", SessDataDir: subject}, nil); err != nil {
			return err
		}
		var rec repository.BehaviorRecords
		uid, err := s.NextTrialUIDTx(ctx, tx)
		if err != nil {
			return err
		}
		for i := 1; i <= trials; i++ {
			rec.Trials = append(rec.Trials, models.SessionTrial{
				SubjectID: subject, Session: n, Trial: i, TrialUID: uid + int64(i-1),
				StartTime: decimal.NewFromInt(int64(10 * (i - 1))),
				StopTime:  decimal.NewFromInt(int64(10*(i-1) + 5)),
			})
		}
		return s.CreateBehaviorTx(ctx, tx, rec)
	}))
	return key
}

func TestNextSessionNumberIsMaxPlusOne(t *testing.T) {
	s := newStore(t)
	first := seedSession(t, s, "m1", 0)
	second := seedSession(t, s, "m1", 0)
	other := seedSession(t, s, "m2", 0)

	assert.Equal(t, 1, first.Session)
	assert.Equal(t, 2, second.Session)
	assert.Equal(t, 1, other.Session)
}

func TestElectrodeConfigLookupByHash(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		cfg := &models.ElectrodeConfig{ProbeType: "pt", ElectrodeConfigName: "1-2", ElectrodeConfigHash: "abc"}
		return s.CreateElectrodeConfigTx(ctx, tx, cfg,
			models.ElectrodeConfigGroup{ElectrodeConfigHash: "abc"},
			[]models.ElectrodeConfigElectrode{
				{ElectrodeConfigHash: "abc", Electrode: 1, ProbeType: "pt", IsUsed: true},
				{ElectrodeConfigHash: "abc", Electrode: 2, ProbeType: "pt", IsUsed: true},
			})
	}))

	var got *models.ElectrodeConfig
	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		got, err = s.GetElectrodeConfigByHashTx(ctx, tx, "abc")
		return err
	}))
	require.NotNil(t, got)
	assert.Equal(t, "1-2", got.ElectrodeConfigName)

	electrodes, err := s.ListElectrodeConfigElectrodes(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, electrodes, 2)

	// the unique hash index rejects a second row
	err = s.InTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.ElectrodeConfig{ProbeType: "pt", ElectrodeConfigName: "other", ElectrodeConfigHash: "abc"}).Error
	})
	assert.Error(t, err)
}

func TestReserveJobIsExclusive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := func(owner string) *models.Job {
		return &models.Job{Target: "unit_stat", KeyHash: "k1", KeyData: datatypes.JSON(`{"a":1}`), Owner: owner}
	}

	ok, err := s.ReserveJob(ctx, job("w1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReserveJob(ctx, job("w2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second worker must not get a reserved key")

	require.NoError(t, s.FailJob(ctx, "unit_stat", "k1", "w1", "boom"))
	ok, err = s.ReserveJob(ctx, job("w2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "error rows wait for retry_after")

	ok, err = s.ReserveJob(ctx, job("w2"), time.Nanosecond)
	require.NoError(t, err)
	assert.True(t, ok, "stale error rows are reclaimed")

	require.NoError(t, s.DeleteJob(ctx, "unit_stat", "k1", "w2"))
	n, err := s.CountJobs(ctx, repository.ListJobsParams{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrialSpikeQueries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := seedSession(t, s, "m1", 3)

	ins := models.InsertionKey{SubjectID: key.SubjectID, Session: key.Session, InsertionNumber: 1}
	rec := repository.InsertionRecords{
		Insertion:  models.ProbeInsertion{SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: 1, Probe: "p", ElectrodeConfigHash: "h"},
		Setup:      models.RecordingSystemSetup{SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: 1, SamplingRate: 100},
		Clustering: models.Clustering{SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: 1, ClusteringMethod: models.ClusteringJRCLUSTv3, ClusteringTime: time.Now().UTC()},
		Units: []models.Unit{{
			SubjectID: ins.SubjectID, Session: ins.Session, InsertionNumber: 1, ClusteringMethod: models.ClusteringJRCLUSTv3,
			Unit: 2, UnitUID: 1, UnitQuality: models.QualityGood, ElectrodeConfigHash: "h", Electrode: 1,
			SpikeTimes: blob.Float64s{1, 2}, SpikeSites: blob.Int64s{1, 1}, SpikeDepths: blob.Float64s{0, 0},
		}},
	}
	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error { return s.CreateInsertionTx(ctx, tx, rec) }))

	pending, err := s.ListClusteringsWithoutTrialSpikes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		return s.CreateTrialSpikesTx(ctx, tx, []models.TrialSpikes{
			{UnitUID: 1, SubjectID: "m1", Session: key.Session, Trial: 1, SpikeTimes: blob.Float64s{1}},
			{UnitUID: 1, SubjectID: "m1", Session: key.Session, Trial: 2, SpikeTimes: blob.Float64s{}},
			{UnitUID: 1, SubjectID: "m1", Session: key.Session, Trial: 3, SpikeTimes: blob.Float64s{0.5, 2}},
		})
	}))

	pending, err = s.ListClusteringsWithoutTrialSpikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	trains, err := s.ListTrialSpikeTrains(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trains, 3)
	assert.Equal(t, []float64{0.5, 2}, trains[2].SpikeTimes)
	assert.True(t, trains[2].StartTime.Equal(decimal.NewFromInt(20)))

	rows, err := s.ListTrialSpikes(ctx, 1, []models.TrialKey{{SubjectID: "m1", Session: key.Session, Trial: 3}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Trial)

	stale, err := s.ListInsertionsWithoutStats(ctx)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		return s.ReplaceUnitStatsTx(ctx, tx, []models.UnitStat{{UnitUID: 1}})
	}))
	stale, err = s.ListInsertionsWithoutStats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
