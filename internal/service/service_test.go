package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ephyspipe/internal/db/dbtest"
	"ephyspipe/internal/ephys"
	"ephyspipe/internal/loader"
	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
	gormrepository "ephyspipe/internal/repository/gorm"
)

func newRepo(t *testing.T) *gormrepository.Store {
	t.Helper()
	return gormrepository.New(dbtest.Open(t).Gorm)
}

type fakeLoader struct {
	sessions []loader.SessionInfo
	behavior *loader.Behavior
	probes   []loader.ProbeData
	tracking []loader.Tracking
	err      error
}

func (f *fakeLoader) Name() string { return "fake" }
func (f *fakeLoader) Root() string { return "/data" }

func (f *fakeLoader) LoadSessions(context.Context, string) ([]loader.SessionInfo, error) {
	return f.sessions, f.err
}

func (f *fakeLoader) LoadBehavior(context.Context, string, string, string) (*loader.Behavior, error) {
	return f.behavior, f.err
}

func (f *fakeLoader) LoadEphys(context.Context, string, string, string) ([]loader.ProbeData, error) {
	return f.probes, f.err
}

func (f *fakeLoader) LoadTracking(context.Context, string, string, time.Time) ([]loader.Tracking, error) {
	return f.tracking, f.err
}

// probeData has units 2 and 3 (plus noise) on a four-site adapter probe.
// At 100 Hz unit 2 fires at 0.2 s and 1.5 s, unit 3 at 0.3 s.
func probeData() loader.ProbeData {
	var es []loader.ProbeElectrode
	for i := 1; i <= 4; i++ {
		es = append(es, loader.ProbeElectrode{Electrode: i, Shank: 1})
	}
	return loader.ProbeData{
		ProbeType:        "A1x4",
		Probe:            "A1x4_H4",
		SamplingRate:     100,
		ClusteringMethod: models.ClusteringJRCLUSTv3,
		ClusteringTime:   time.Date(2020, 3, 5, 15, 0, 0, 0, time.UTC),
		ChannelMap:       []int{4, 3, 2, 1},
		Electrodes:       es,
		Spikes: ephys.SortedSpikes{
			Units:    []int{-1, 2, 3, 2},
			Times:    []float64{10, 20, 30, 150},
			Sites:    []int{1, 1, 2, 1},
			Depths:   []float64{0, 1, 2, 3},
			Notes:    []string{models.QualityGood, models.QualityMulti},
			PosX:     []float64{1, 2},
			PosY:     []float64{3, 4},
			Amp:      []float64{50, 60},
			SNR:      []float64{4, 5},
			MaxSites: []int{1, 2},
			Waveforms: ephys.Waveforms{
				Data:     []float64{0, 1, 0, 2},
				Clusters: 2, Channels: 1, Samples: 2,
			},
		},
		Files: []string{"m1/s1/a.spikes.mat"},
	}
}

func behavior() *loader.Behavior {
	return &loader.Behavior{
		Task: "hf wheel",
		Trials: []loader.Trial{
			{Trial: 1, Start: 0, Stop: 1},
			{Trial: 2, Start: 1, Stop: 2},
		},
	}
}

// ingestAll runs session, behavior and ephys ingest against one fake loader.
func ingestAll(t *testing.T, repo *gormrepository.Store) *fakeLoader {
	t.Helper()
	ctx := context.Background()
	l := &fakeLoader{
		sessions: []loader.SessionInfo{{
			SubjectID: "m1",
			Start:     time.Date(2020, 3, 5, 14, 7, 9, 0, time.UTC),
			Basename:  "m1_0305",
			Files:     []string{"m1/s1/m1_0305_info.json"},
		}},
		behavior: behavior(),
		probes:   []loader.ProbeData{probeData()},
	}
	sessions := &SessionIngestService{Repo: repo, Loader: l, Subjects: []string{"m1"}}
	res, err := sessions.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	beh := &BehaviorIngestService{Repo: repo, Loader: l}
	res, err = beh.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	eph := &EphysIngestService{Repo: repo, Loader: l, Insertion: &InsertionService{Repo: repo}}
	res, err = eph.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	return l
}

func TestConfigName(t *testing.T) {
	cases := []struct {
		in   []int
		want string
	}{
		{[]int{1, 2, 3, 7, 8, 9}, "1-3; 7-9"},
		{[]int{9, 8, 7, 3, 2, 1, 2}, "1-3; 7-9"},
		{[]int{5}, "5-5"},
		{[]int{1, 3, 5}, "1-1; 3-3; 5-5"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := ConfigName(tc.in); got != tc.want {
			t.Fatalf("ConfigName(%v)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestResolverDeduplicatesByHash(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InTx(ctx, func(tx *gorm.DB) error {
		_, err := repo.EnsureProbeTypeTx(ctx, tx, "pt", probeTypeElectrodes("pt", nineSites()))
		return err
	}))
	r := &ElectrodeConfigResolver{Repo: repo}

	a, err := r.Resolve(ctx, "pt", []int{1, 2, 3, 7, 8, 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1-3; 7-9", a.Name)

	b, err := r.Resolve(ctx, "pt", []int{9, 8, 7, 3, 2, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	c, err := r.Resolve(ctx, "pt", []int{1, 2}, []int{2})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)

	n, err := repo.CountElectrodeConfigs(ctx, repository.ListElectrodeConfigsParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	members, err := repo.ListElectrodeConfigElectrodes(ctx, c.Hash)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.True(t, members[0].IsUsed)
	assert.False(t, members[1].IsUsed)

	_, err = r.Resolve(ctx, "pt", []int{1, 10}, nil)
	assert.True(t, errors.Is(err, ErrUnknownElectrode), "err=%v", err)
}

func nineSites() []loader.ProbeElectrode {
	out := make([]loader.ProbeElectrode, 9)
	for i := range out {
		out[i] = loader.ProbeElectrode{Electrode: i + 1, Shank: 1}
	}
	return out
}

func TestIngestPipeline(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	l := ingestAll(t, repo)

	// a second pass finds nothing new
	res, err := (&SessionIngestService{Repo: repo, Loader: l, Subjects: []string{"m1"}}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)

	inserted, err := repo.ListInsertedSessions(ctx, repository.ListInsertedSessionsParams{})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "m1/s1", inserted[0].SessDataDir)
	assert.Equal(t, "fake", inserted[0].LoaderName)

	sess, err := repo.GetSession(ctx, models.SessionKey{SubjectID: "m1", Session: 1})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "2020-03-05", sess.SessionDate)
	assert.Equal(t, "14:07:09", sess.SessionTime)

	ins := models.InsertionKey{SubjectID: "m1", Session: 1, InsertionNumber: 1}
	units, err := repo.ListUnits(ctx, repository.ListUnitsParams{Insertion: &ins, OrderBy: "unit", Asc: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 2, units[0].Unit)
	assert.Equal(t, []float64{0.2, 1.5}, []float64(units[0].SpikeTimes))
	assert.Equal(t, 4, units[0].Electrode)
	assert.Equal(t, 3, units[1].Electrode)
	assert.Equal(t, models.QualityGood, units[0].UnitQuality)
	assert.Equal(t, units[0].UnitUID+1, units[1].UnitUID)

	setup, err := repo.GetRecordingSetup(ctx, ins)
	require.NoError(t, err)
	require.NotNil(t, setup)
	assert.Equal(t, 100, setup.SamplingRate)

	trains, err := repo.ListTrialSpikeTrains(ctx, units[0].UnitUID)
	require.NoError(t, err)
	require.Len(t, trains, 2)
	assert.Equal(t, []float64{0.2}, trains[0].SpikeTimes)
	assert.InDelta(t, 0.5, trains[1].SpikeTimes[0], 1e-9)

	pending, err := repo.ListClusteringsWithoutTrialSpikes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEphysIngestRetriesWholeSession(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	l := &fakeLoader{
		sessions: []loader.SessionInfo{{
			SubjectID: "m1",
			Start:     time.Date(2020, 3, 5, 14, 7, 9, 0, time.UTC),
			Basename:  "m1_0305",
			Files:     []string{"m1/s1/m1_0305_info.json"},
		}},
		behavior: behavior(),
	}
	_, err := (&SessionIngestService{Repo: repo, Loader: l, Subjects: []string{"m1"}}).RunOnce(ctx)
	require.NoError(t, err)
	_, err = (&BehaviorIngestService{Repo: repo, Loader: l}).RunOnce(ctx)
	require.NoError(t, err)

	broken := probeData()
	broken.ProbeType = "A1x3"
	broken.Probe = "A1x3_H3"
	// electrode 1 is mapped but the adapter does not describe it
	broken.Electrodes = broken.Electrodes[1:]
	l.probes = []loader.ProbeData{probeData(), broken}

	eph := &EphysIngestService{Repo: repo, Loader: l, Insertion: &InsertionService{Repo: repo}}
	res, err := eph.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Created)
	n, err := repo.CountInsertions(ctx, repository.ListInsertionsParams{})
	require.NoError(t, err)
	assert.Zero(t, n, "first probe must not be kept when the second fails")

	fixed := probeData()
	fixed.Probe = "A1x4_H5"
	l.probes = []loader.ProbeData{probeData(), fixed}
	res, err = eph.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Failed)

	items, err := repo.ListInsertions(ctx, repository.ListInsertionsParams{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	numbers := []int{items[0].InsertionNumber, items[1].InsertionNumber}
	assert.ElementsMatch(t, []int{1, 2}, numbers)

	res, err = eph.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created, "a complete session is not loaded again")
}

func TestInsertRejectsUnsupportedMethod(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	pd := probeData()
	pd.ClusteringMethod = models.ClusteringKilosort2

	_, err := (&InsertionService{Repo: repo}).Insert(ctx, models.SessionKey{SubjectID: "m1", Session: 1}, 1, pd)
	assert.True(t, errors.Is(err, ErrUnsupportedClusteringMethod), "err=%v", err)

	types, err := repo.ListProbeTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestInsertRollsBackOnFailure(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	pd := probeData()
	// electrode 1 is mapped but missing from the probe description
	pd.Electrodes = pd.Electrodes[1:]

	_, err := (&InsertionService{Repo: repo}).Insert(ctx, models.SessionKey{SubjectID: "m1", Session: 1}, 1, pd)
	assert.True(t, errors.Is(err, ErrUnknownElectrode), "err=%v", err)

	types, err := repo.ListProbeTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, types, "probe type insert must roll back")
	n, err := repo.CountInsertions(ctx, repository.ListInsertionsParams{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertElectrodeMapping(t *testing.T) {
	pd := probeData()
	pd.Spikes.MaxSites = []int{1, 9}
	_, err := (&InsertionService{Repo: newRepo(t)}).Insert(context.Background(), models.SessionKey{SubjectID: "m1", Session: 1}, 1, pd)
	assert.True(t, errors.Is(err, ephys.ErrElectrodeMapping), "err=%v", err)
}

func TestUnitStatService(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ingestAll(t, repo)
	svc := &UnitStatService{Repo: repo, Params: ephys.DefaultStatParams()}

	keys, err := svc.KeySource(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, svc.Make(ctx, keys[0]))

	keys, err = svc.KeySource(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	unit, err := repo.ListUnits(ctx, repository.ListUnitsParams{OrderBy: "unit", Asc: boolPtr(true)})
	require.NoError(t, err)
	st, err := repo.GetUnitStat(ctx, unit[0].UnitUID)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NotNil(t, st.AvgFiringRate)
	// two spikes over two one-second trials, one spike per trial
	assert.InDelta(t, 1.0, *st.AvgFiringRate, 1e-9)
	assert.Nil(t, st.ISIViolation)
}

func TestToTrainsKeepsRelativeTimes(t *testing.T) {
	start, err := decimal.NewFromString("1000.1")
	require.NoError(t, err)
	stop, err := decimal.NewFromString("1001.35")
	require.NoError(t, err)
	trains := toTrains([]repository.TrialSpikeTrain{
		{Trial: 1, SpikeTimes: []float64{0.001, 0.0029}, StartTime: start, StopTime: stop},
	})
	require.Len(t, trains, 1)
	assert.Equal(t, []float64{0.001, 0.0029}, trains[0].Spikes)
	assert.Zero(t, trains[0].Start)
	assert.Equal(t, 1.25, trains[0].Stop)
}

func TestPsthService(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ingestAll(t, repo)
	svc := &PsthService{Repo: repo, Params: ephys.DefaultPsthParams()}

	conds, err := svc.EnsureConditions(ctx)
	require.NoError(t, err)
	require.Len(t, conds, 5)
	again, err := svc.EnsureConditions(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 5)

	keys, err := svc.KeySource(ctx)
	require.NoError(t, err)
	// both units are curated; no session has a stim region
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.Equal(t, "all_nostim", k.Condition)
		require.NoError(t, svc.Make(ctx, k))
	}

	p, err := repo.GetUnitPsth(ctx, "all_nostim", keys[0].UnitUID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Trials)
	require.NotEmpty(t, p.Psth)
	assert.Len(t, p.PsthEdges, len(p.Psth))
	total := 0.0
	for _, r := range p.Psth {
		total += r
	}
	params := ephys.DefaultPsthParams()
	assert.InDelta(t, 2.0, total*float64(p.Trials)*params.BinSize, 1e-9)

	rows, _, err := svc.ComputePerTrial(ctx, "all_nostim", keys[0].UnitUID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rate, edges, trials, err := svc.Compute(ctx, "stim_left", keys[0].UnitUID)
	require.NoError(t, err)
	assert.Nil(t, rate)
	assert.Nil(t, edges)
	assert.Zero(t, trials)

	_, _, _, err = svc.Compute(ctx, "no_such_condition", keys[0].UnitUID)
	assert.True(t, errors.Is(err, ErrUnknownTrialCondition), "err=%v", err)
	_, _, err = svc.ComputePerTrial(ctx, "no_such_condition", keys[0].UnitUID)
	assert.True(t, errors.Is(err, ErrUnknownTrialCondition), "err=%v", err)
}

func TestCellTypeService(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ingestAll(t, repo)
	svc := &CellTypeService{Repo: repo}

	uids, err := svc.KeySource(ctx)
	require.NoError(t, err)
	require.Len(t, uids, 2)
	// two-sample waveforms are too short for the spline
	assert.True(t, errors.Is(svc.Make(ctx, uids[0]), ephys.ErrShortWaveform))
}

func TestBrainRegion(t *testing.T) {
	loc := func(area string, ml int64) models.PhotostimLocation {
		return models.PhotostimLocation{BrainArea: area, MLLocation: decimalInt(ml)}
	}
	cases := []struct {
		name string
		locs []models.PhotostimLocation
		want string
		err  error
	}{
		{"right", []models.PhotostimLocation{loc("vS1", 1500), loc("vS1", 1200)}, LateralityRight, nil},
		{"left", []models.PhotostimLocation{loc("vS1", -1500)}, LateralityLeft, nil},
		{"both", []models.PhotostimLocation{loc("vS1", -1500), loc("vS1", 1500)}, LateralityBoth, nil},
		{"both with midline", []models.PhotostimLocation{loc("vS1", 0), loc("vS1", -10), loc("vS1", 10)}, LateralityBoth, nil},
		{"midline", []models.PhotostimLocation{loc("vS1", 0)}, "", ErrAmbiguousHemisphere},
		{"right with midline", []models.PhotostimLocation{loc("vS1", 1500), loc("vS1", 0)}, "", ErrAmbiguousHemisphere},
		{"left with midline", []models.PhotostimLocation{loc("vS1", 0), loc("vS1", -1500)}, "", ErrAmbiguousHemisphere},
		{"two areas", []models.PhotostimLocation{loc("vS1", 10), loc("M1", 10)}, "", ErrMultipleBrainAreas},
	}
	for _, tc := range cases {
		_, side, err := BrainRegion(tc.locs)
		if tc.err != nil {
			assert.True(t, errors.Is(err, tc.err), "%s: err=%v", tc.name, err)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, side, tc.name)
	}
}

func TestSegmentTrial(t *testing.T) {
	got := SegmentTrial([]float64{0.5, 1, 1.5, 2}, 1, 2)
	assert.Equal(t, []float64{0, 0.5}, got)
	assert.NotNil(t, SegmentTrial(nil, 0, 1))
}

func TestBehaviorRecords(t *testing.T) {
	b := &loader.Behavior{
		Task: "hf wheel",
		Photostims: []loader.PhotostimProtocol{{
			PhotoStim: 1, Device: "laser", Power: 4.5,
			Location: &loader.PhotostimLocation{BrainArea: "vS1", MLLocation: 1500},
		}},
		Trials: []loader.Trial{
			{Trial: 1, Start: 0, Stop: 1},
			{Trial: 2, Start: 1, Stop: 2, Photostim: true, Events: []loader.StimEvent{{ID: 7, Time: 0.25, Power: 4.5}}},
		},
	}
	rec := BehaviorRecords(models.SessionKey{SubjectID: "m1", Session: 3}, b, 10)
	require.Len(t, rec.Trials, 2)
	assert.EqualValues(t, 11, rec.Trials[1].TrialUID)
	require.Len(t, rec.PhotostimTrials, 1)
	require.Len(t, rec.PhotostimEvents, 1)
	assert.Equal(t, 7, rec.PhotostimEvents[0].PhotostimEventID)
	assert.Equal(t, "0.25", rec.PhotostimEvents[0].PhotostimEventTime.String())
	require.Len(t, rec.PhotostimLocations, 1)
	assert.Equal(t, "vS1", rec.PhotostimLocations[0].BrainArea)
}

func TestTrackingIngest(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	l := ingestAll(t, repo)
	l.tracking = []loader.Tracking{
		{Device: "WT_Camera_Vincent 0", FPS: 500, Files: []string{"m1/WhiskerTracking/m1_20200305140709.mat"}},
		{Device: "WT_Camera_Vincent 0", FPS: 500, Files: []string{"m1/WhiskerTracking/m1_20200305140709_2.mat"}},
	}
	svc := &TrackingIngestService{Repo: repo, Loader: l}

	l.err = loader.ErrMissingSourceFile
	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	l.err = nil
	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	key := models.SessionKey{SubjectID: "m1", Session: 1}
	files, err := repo.ListTrackingFiles(ctx, key)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "m1/WhiskerTracking/m1_20200305140709.mat", files[0].Filepath)
	assert.Equal(t, "WT_Camera_Vincent 0", files[0].TrackingDevice)

	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created, "a scanned session is not scanned again")
}
