package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rewired-gh/weighstation/internal/acquisition"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/session"
	"github.com/rewired-gh/weighstation/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWeights struct {
	snap acquisition.Snapshot
}

func (f *fakeWeights) Latest() acquisition.Snapshot { return f.snap }

func (f *fakeWeights) set(scale1, scale2 string) {
	f.snap.Scale1 = models.ScaleReading{ScaleID: models.Scale1, WeightKg: decimal.RequireFromString(scale1), Stable: true, Available: true}
	f.snap.Scale2 = models.ScaleReading{ScaleID: models.Scale2, WeightKg: decimal.RequireFromString(scale2), Stable: true, Available: true}
}

type fakeTarer struct {
	tared []int
}

func (f *fakeTarer) Tare(_ context.Context, scaleID int) error {
	f.tared = append(f.tared, scaleID)
	return nil
}

type harness struct {
	con     *console
	store   *storage.Storage
	weights *fakeWeights
	tarer   *fakeTarer
	out     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(5, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.AddRecipe(ctx, &models.Recipe{
		ID: "R1", Name: "Brine",
		Ingredients: []models.RecipeIngredient{
			{Sequence: 1, IngredientID: "I1", IngredientCode: "SALT", IngredientName: "Salt",
				TargetWeight: decimal.RequireFromString("10"), TolerancePercent: decimal.RequireFromString("2")},
		},
	}))
	require.NoError(t, store.AddBatch(ctx, &models.Batch{ID: "B1", RecipeID: "R1", TotalRepetitions: 1}))

	h := &harness{store: store, weights: &fakeWeights{}, tarer: &fakeTarer{}, out: &bytes.Buffer{}}
	mgr := session.NewManager(store, store, store, session.WithOperator("alice"))
	h.con = newConsole(mgr, h.weights, h.tarer, store, "alice", h.out)
	return h
}

func (h *harness) exec(t *testing.T, line string) error {
	t.Helper()
	fields := strings.Fields(line)
	return h.con.exec(context.Background(), fields[0], fields[1:])
}

func TestConsole_FullBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.exec(t, "start B1"))
	b, err := h.store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchInProgress, b.Status)
	assert.Equal(t, "alice", b.StartedBy)

	require.NoError(t, h.exec(t, "bowls BWL 1.000 MIX 2.000"))
	h.weights.set("1.020", "2.010")
	require.NoError(t, h.exec(t, "verify"))
	require.NoError(t, h.exec(t, "record"))

	h.weights.set("11.050", "2.010")
	require.NoError(t, h.exec(t, "net"))
	assert.Contains(t, h.out.String(), "net 10.030 kg [green]")
	require.NoError(t, h.exec(t, "ready"))

	h.weights.set("1.020", "12.040")
	require.NoError(t, h.exec(t, "confirm"))
	assert.Contains(t, h.out.String(), "batch B1 complete")
	assert.Empty(t, h.con.batchID)

	b, err = h.store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, b.Status)
	assert.Equal(t, 1, b.CompletedRepetitions)
}

func TestConsole_RejectsUnstableAndBadTransfer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, "start B1"))
	require.NoError(t, h.exec(t, "bowls BWL 1.000 MIX 2.000"))

	h.weights.set("1.000", "2.000")
	h.weights.snap.Scale2.Stable = false
	assert.ErrorContains(t, h.exec(t, "record"), "not stable")

	h.weights.set("1.000", "2.000")
	require.NoError(t, h.exec(t, "record"))
	require.NoError(t, h.exec(t, "ready 10.000"))

	h.weights.set("1.000", "11.000")
	err := h.exec(t, "confirm")
	require.Error(t, err)
	assert.True(t, session.IsRejection(err))

	h.weights.set("1.000", "12.000")
	require.NoError(t, h.exec(t, "confirm"))
}

func TestConsole_RequiresSession(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.exec(t, "confirm"), session.ErrNoActiveSession)
	assert.ErrorContains(t, h.exec(t, "tare 3"), "scale must be 1 or 2")
	require.NoError(t, h.exec(t, "tare 2"))
	assert.Equal(t, []int{2}, h.tarer.tared)
}

func TestConsole_PauseAndAbort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.exec(t, "start B1"))
	require.NoError(t, h.exec(t, "pause"))
	assert.Empty(t, h.con.batchID)

	require.NoError(t, h.exec(t, "start B1"))
	assert.ErrorContains(t, h.exec(t, "abort"), "usage")
	require.NoError(t, h.exec(t, "abort scale drift"))

	b, err := h.store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.BatchAborted, b.Status)
	assert.Equal(t, "scale drift", b.AbortReason)
}

func TestConsole_Run(t *testing.T) {
	h := newHarness(t)
	in := strings.NewReader("weights\nfoo\n\nstatus\nconfirm\nquit\nweights\n")

	require.NoError(t, h.con.Run(context.Background(), in))
	out := h.out.String()
	assert.Contains(t, out, "scale 1: unavailable")
	assert.Contains(t, out, `error: unknown command "foo"`)
	assert.Contains(t, out, "rejected: no active weighing session")
	assert.Equal(t, 1, strings.Count(out, "scale 2: unavailable"), "commands after quit must not run")
}
