package checkpoint

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	bg, err := OpenBadger(BadgerConfig{InMemory: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() {
		sq.Close()
		bg.Close()
	})
	return map[string]Store{"sqlite": sq, "badger": bg}
}

func sample(n int64, parent string) *Checkpoint {
	tunable := 0.42
	return &Checkpoint{
		ParentID:     parent,
		RunID:        "run-1",
		Sample:       n,
		LogPosterior: -12.5 - float64(n),
		Nodes: map[string][]float64{
			"mu":    {float64(n) + 0.25},
			"freqs": {0.1, 0.2, 0.3, 0.4},
			"tiny":  {math.SmallestNonzeroFloat64},
		},
		Schedule: schedule.State{
			Steps: int(n),
			Operators: []schedule.OperatorState{
				{ID: "scale.mu", Tunable: &tunable, Accepted: 3, Rejected: 7},
			},
		},
		RNG:       []byte{1, 2, 3, byte(n)},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, int(n), time.UTC),
	}
}

func TestLatestOnEmptyStore(t *testing.T) {
	for name, s := range stores(t) {
		_, err := s.Latest(context.Background())
		assert.ErrorIs(t, err, ErrNoCheckpoint, name)
		_, err = s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNoCheckpoint, name)
		assert.ErrorIs(t, s.Activate(context.Background(), "nope"), ErrNoCheckpoint, name)
	}
}

func TestSaveRoundTripIsExact(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		cp := sample(10, "")
		require.NoError(t, s.Save(ctx, cp), name)
		require.NotEmpty(t, cp.ID, name)

		got, err := s.Latest(ctx)
		require.NoError(t, err, name)
		if diff := cmp.Diff(*cp, got); diff != "" {
			t.Fatalf("%s: round trip mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestVersionsAndActivate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		first := sample(100, "")
		require.NoError(t, s.Save(ctx, first), name)
		second := sample(200, first.ID)
		require.NoError(t, s.Save(ctx, second), name)
		third := sample(300, second.ID)
		require.NoError(t, s.Save(ctx, third), name)

		latest, err := s.Latest(ctx)
		require.NoError(t, err, name)
		assert.Equal(t, third.ID, latest.ID, name)
		assert.Equal(t, second.ID, latest.ParentID, name)

		list, err := s.List(ctx, 2)
		require.NoError(t, err, name)
		require.Len(t, list, 2, name)
		assert.Equal(t, int64(300), list[0].Sample, name)
		assert.Equal(t, int64(200), list[1].Sample, name)

		require.NoError(t, s.Activate(ctx, first.ID), name)
		latest, err = s.Latest(ctx)
		require.NoError(t, err, name)
		assert.Equal(t, int64(100), latest.Sample, name)

		got, err := s.Get(ctx, second.ID)
		require.NoError(t, err, name)
		assert.Equal(t, []float64{200.25}, got.Nodes["mu"], name)
	}
}

func TestSaveUnknownParentFails(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		err := s.Save(ctx, sample(1, "missing"))
		assert.Error(t, err, name)
		_, err = s.Latest(ctx)
		assert.ErrorIs(t, err, ErrNoCheckpoint, name)
	}
}

func TestSQLiteReopenKeepsActive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	cp := sample(5, "")
	require.NoError(t, s.Save(ctx, cp))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.NotNil(t, s.DB())
}

func TestBadgerReopenKeepsActive(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")
	s, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	cp := sample(7, "")
	require.NoError(t, s.Save(ctx, cp))
	require.NoError(t, s.Close())

	s, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestSQLiteClosedStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Save(context.Background(), sample(1, "")))
	_, err = s.List(context.Background(), 10)
	assert.Error(t, err)
}

func TestVectorLayout(t *testing.T) {
	nodes := map[string][]float64{"b": {3, 4}, "a": {1}, "empty": {}}
	layout, values := flatten(nodes)
	assert.Equal(t, []float64{1, 3, 4}, values)
	back, err := unflatten(layout, decodeVector(encodeVector(values)))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, back["b"])
	assert.Empty(t, back["empty"])

	_, err = unflatten([]nodeLayout{{ID: "x", Dim: 4}}, values)
	assert.Error(t, err)
}
