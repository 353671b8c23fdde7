package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ephyspipe/internal/db/dbtest"
	"ephyspipe/internal/metrics"
	"ephyspipe/internal/repository"
	gormrepository "ephyspipe/internal/repository/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type unitKey struct {
	SubjectID string `json:"subject_id"`
	Session   int    `json:"session"`
}

type fakeTable struct {
	mu    sync.Mutex
	keys  []unitKey
	fail  map[unitKey]error
	made  []unitKey
	srcEr error
}

func (f *fakeTable) Table() string { return "fake_table" }

func (f *fakeTable) KeySource(context.Context) ([]unitKey, error) { return f.keys, f.srcEr }

func (f *fakeTable) Make(_ context.Context, k unitKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[k]; err != nil {
		return err
	}
	f.made = append(f.made, k)
	return nil
}

func TestKeyHashIgnoresFieldOrder(t *testing.T) {
	a, _, err := KeyHash(unitKey{SubjectID: "m1", Session: 2})
	require.NoError(t, err)
	b, _, err := KeyHash(map[string]any{"session": 2, "subject_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, _, err := KeyHash(unitKey{SubjectID: "m1", Session: 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	s1, data, err := KeyHash(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))
	s2, _, _ := KeyHash(int64(43))
	assert.NotEqual(t, s1, s2)
}

func TestPopulateSuppressesKeyErrors(t *testing.T) {
	boom := errors.New("boom")
	tbl := &fakeTable{
		keys: []unitKey{{"m1", 1}, {"m1", 2}, {"m2", 1}},
		fail: map[unitKey]error{{"m1", 2}: boom},
	}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	res, err := Populate(context.Background(), &Populator{Metrics: m}, tbl)
	require.NoError(t, err)
	assert.Equal(t, Result{Keys: 3, Done: 2, Failed: 1}, res)
	assert.Equal(t, []unitKey{{"m1", 1}, {"m2", 1}}, tbl.made)
}

func TestPopulateKeySourceError(t *testing.T) {
	tbl := &fakeTable{srcEr: errors.New("db down")}
	_, err := Populate(context.Background(), nil, tbl)
	assert.EqualError(t, err, "db down")
}

func TestPopulateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tbl := &fakeTable{keys: []unitKey{{"m1", 1}}}
	_, err := Populate(ctx, nil, tbl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tbl.made)
}

func TestPopulateMaxKeys(t *testing.T) {
	tbl := &fakeTable{keys: []unitKey{{"m1", 1}, {"m1", 2}, {"m1", 3}}}
	res, err := Populate(context.Background(), &Populator{MaxKeys: 2}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Done)
}

func TestDBReserverSkipsReservedAndFailedKeys(t *testing.T) {
	repo := gormrepository.New(dbtest.Open(t).Gorm)
	ctx := context.Background()
	boom := errors.New("boom")

	tbl := &fakeTable{
		keys: []unitKey{{"m1", 1}, {"m1", 2}},
		fail: map[unitKey]error{{"m1", 2}: boom},
	}
	w1 := NewDBReserver(repo, time.Hour)
	res, err := Populate(ctx, &Populator{Reserver: w1}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, res.Failed)

	// completed keys leave no row; the failed one stays as an error row
	jobs, err := repo.ListJobs(ctx, repository.ListJobsParams{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "boom", jobs[0].ErrorMessage)

	w2 := NewDBReserver(repo, time.Hour)
	tbl.fail = nil
	tbl.keys = []unitKey{{"m1", 2}}
	res, err = Populate(ctx, &Populator{Reserver: w2}, tbl)
	require.NoError(t, err)
	assert.Equal(t, Result{Keys: 1, Skipped: 1}, res)
}

func TestRedisReserver(t *testing.T) {
	addr := os.Getenv("EPHYS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EPHYS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "ephyspipe:test:" + t.Name() + ":"
	w1 := NewRedisReserver(&redis.Options{Addr: addr}, prefix, time.Minute, time.Minute)
	w2 := NewRedisReserver(&redis.Options{Addr: addr}, prefix, time.Minute, time.Minute)
	defer w1.Close()
	defer w2.Close()
	defer w1.Client.Del(ctx, w1.key("t", "k"))

	ok, err := w1.Reserve(ctx, "t", "k", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w2.Reserve(ctx, "t", "k", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign owner cannot release the key
	require.NoError(t, w2.Complete(ctx, "t", "k"))
	ok, _ = w2.Reserve(ctx, "t", "k", nil)
	assert.False(t, ok)

	require.NoError(t, w1.Fail(ctx, "t", "k", errors.New("boom")))
	ok, _ = w2.Reserve(ctx, "t", "k", nil)
	assert.False(t, ok, "failed keys wait for the retry window")

	require.NoError(t, w1.Client.Del(ctx, w1.key("t", "k")).Err())
	ok, _ = w2.Reserve(ctx, "t", "k", nil)
	assert.True(t, ok)
	require.NoError(t, w2.Complete(ctx, "t", "k"))
}

func TestPopulateKeyNotReserved(t *testing.T) {
	repo := gormrepository.New(dbtest.Open(t).Gorm)
	ctx := context.Background()
	tbl := &fakeTable{}
	key := unitKey{"m1", 1}

	hash, data, err := KeyHash(key)
	require.NoError(t, err)
	other := NewDBReserver(repo, time.Hour)
	ok, err := other.Reserve(ctx, tbl.Table(), hash, data)
	require.NoError(t, err)
	require.True(t, ok)

	err = PopulateKey(ctx, &Populator{Reserver: NewDBReserver(repo, time.Hour)}, tbl, key)
	assert.ErrorIs(t, err, ErrNotReserved)
	assert.Empty(t, tbl.made)

	require.NoError(t, other.Complete(ctx, tbl.Table(), hash))
	require.NoError(t, PopulateKey(ctx, &Populator{Reserver: NewDBReserver(repo, time.Hour)}, tbl, key))
	assert.Equal(t, []unitKey{key}, tbl.made)
}
