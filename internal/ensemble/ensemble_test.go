package ensemble

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/raster"
	"github.com/josegcpa/unet/internal/stream"
	"github.com/josegcpa/unet/internal/testutil"
)

// identityBackend returns every input unchanged and records how many inputs
// each Infer call saw.
type identityBackend struct {
	batchSizes []int
	inferErr   error
}

func (b *identityBackend) TrainStep(context.Context, stream.Batch) (float64, error) {
	return 0, errors.New("not a training backend")
}

func (b *identityBackend) Infer(_ context.Context, inputs []raster.Planes) ([]raster.Planes, error) {
	if b.inferErr != nil {
		return nil, b.inferErr
	}
	b.batchSizes = append(b.batchSizes, len(inputs))
	out := make([]raster.Planes, len(inputs))
	for i, in := range inputs {
		out[i] = in.Clone()
	}
	return out, nil
}

func (b *identityBackend) Save(fsutil.FileSystem, string) error { return nil }
func (b *identityBackend) Load(fsutil.FileSystem, string) error { return nil }

func TestPredictIdentityRoundTripIsExact(t *testing.T) {
	t.Parallel()
	backend := &identityBackend{}
	in := testutil.GradientPlanes(6, 6, 2)

	out, err := Predict(context.Background(), backend, []raster.Planes{in})
	require.NoError(t, err)
	require.Len(t, out, 1)

	// Every variant realigns to the original, so the mean of 8 identical
	// stacks reproduces the input bit-exactly.
	testutil.RequirePlanesEqual(t, in, out[0], 0)
}

func TestPredictMeanOfIdenticalOutputsDoesNotRound(t *testing.T) {
	t.Parallel()
	// 3/17 is not exactly representable, so a sequential float32 sum of eight
	// copies rounds at several partial sums. The mean must still return the
	// value untouched.
	in := testutil.SolidPlanes(6, 6, 1, float32(3)/17)

	out, err := Predict(context.Background(), &identityBackend{}, []raster.Planes{in})
	require.NoError(t, err)
	require.Len(t, out, 1)
	testutil.RequirePlanesEqual(t, in, out[0], 0)
}

func TestPredictExpandsEightWay(t *testing.T) {
	t.Parallel()
	backend := &identityBackend{}
	inputs := []raster.Planes{
		testutil.GradientPlanes(4, 4, 1),
		testutil.SolidPlanes(4, 4, 1, 0.5),
		testutil.GradientPlanes(4, 4, 1),
	}

	out, err := Predict(context.Background(), backend, inputs)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, []int{24}, backend.batchSizes, "one backend call with all 8N variants")
}

func TestPredictRejectsNonSquareInput(t *testing.T) {
	t.Parallel()
	_, err := Predict(context.Background(), &identityBackend{}, []raster.Planes{testutil.GradientPlanes(4, 6, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "square")
}

func TestPredictEmptyBatch(t *testing.T) {
	t.Parallel()
	out, err := Predict(context.Background(), &identityBackend{}, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPredictPropagatesBackendError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	_, err := Predict(context.Background(), &identityBackend{inferErr: boom}, []raster.Planes{testutil.GradientPlanes(4, 4, 1)})
	assert.ErrorIs(t, err, boom)
}

func TestForwardInverseAreInverses(t *testing.T) {
	t.Parallel()
	in := testutil.GradientPlanes(5, 5, 3)
	for _, v := range variants {
		got := inverse(forward(in, v), v)
		testutil.RequirePlanesEqual(t, in, got, 0)
	}
}
