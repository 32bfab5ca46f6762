package face

import (
	"context"
	"image"
	"image/color"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/proctor-go/internal/errors"
)

func TestDecodeDetections(t *testing.T) {
	t.Parallel()

	bounds := image.Rect(0, 0, 200, 100)
	boxes := []float32{
		0.1, 0.1, 0.5, 0.3, // face, high score
		0.2, 0.6, 0.8, 0.9, // face, low score
		0.0, 0.0, 0.5, 0.5, // other class
		0.5, 0.5, 0.5, 0.5, // degenerate
		-0.2, -0.1, 1.4, 1.2, // out of range, clamped
	}
	classes := []float32{0, 0, 3, 0, 0}
	scores := []float32{0.95, 0.3, 0.9, 0.9, 0.8}

	tests := []struct {
		name      string
		count     int
		minScore  float64
		faceClass int
		want      []image.Rectangle
	}{
		{
			name: "filters score, class and empty boxes", count: 5, minScore: 0.5, faceClass: 0,
			want: []image.Rectangle{image.Rect(20, 10, 60, 50), image.Rect(0, 0, 200, 100)},
		},
		{
			name: "any class", count: 3, minScore: 0.5, faceClass: -1,
			want: []image.Rectangle{image.Rect(20, 10, 60, 50), image.Rect(0, 0, 100, 50)},
		},
		{
			name: "count beyond outputs is bounded", count: 50, minScore: 0.99, faceClass: 0,
			want: nil,
		},
		{
			name: "zero count", count: 0, minScore: 0, faceClass: -1,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := decodeDetections(boxes, classes, scores, tt.count, bounds, tt.minScore, tt.faceClass)
			rects := make([]image.Rectangle, 0, len(got))
			for _, b := range got {
				rects = append(rects, b.Rectangle)
			}
			if tt.want == nil {
				assert.Empty(t, rects)
				return
			}
			assert.Equal(t, tt.want, rects)
		})
	}
}

func TestModelServiceLoadsOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	loads := 0
	model := &scriptedModel{}
	svc := NewModelService(func(context.Context) (Model, error) {
		mu.Lock()
		defer mu.Unlock()
		loads++
		return model, nil
	})
	assert.False(t, svc.Loaded())

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			m, err := svc.EnsureInitialized(t.Context())
			assert.NoError(t, err)
			assert.Same(t, model, m)
		})
	}
	wg.Wait()

	assert.Equal(t, 1, loads)
	assert.True(t, svc.Loaded())

	require.NoError(t, svc.Close())
	assert.True(t, model.closed)
	assert.False(t, svc.Loaded())
	require.NoError(t, svc.Close(), "closing an unloaded service is a no-op")
}

func TestModelServiceRetriesFailedLoad(t *testing.T) {
	t.Parallel()

	attempts := 0
	svc := NewModelService(func(context.Context) (Model, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.NewStd("download interrupted")
		}
		return &scriptedModel{}, nil
	})

	_, err := svc.EnsureInitialized(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))

	_, err = svc.EnsureInitialized(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestFillInputs(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			if x < 2 {
				src.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				src.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	t.Run("uint8", func(t *testing.T) {
		t.Parallel()
		dst := make([]uint8, 2*2*3)
		fillUint8Input(dst, src, 2, 2)
		assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255, 255, 0, 0, 0, 0, 255}, dst)
	})

	t.Run("float32 normalized", func(t *testing.T) {
		t.Parallel()
		dst := make([]float32, 2*2*3)
		fillFloat32Input(dst, src, 2, 2)
		assert.InDelta(t, 1.0, dst[0], 1e-6)
		assert.InDelta(t, -1.0, dst[1], 1e-6)
		assert.InDelta(t, 1.0, dst[5], 1e-6)
	})

	t.Run("non-RGBA source and short buffer", func(t *testing.T) {
		t.Parallel()
		gray := image.NewGray(image.Rect(0, 0, 8, 8))
		for i := range gray.Pix {
			gray.Pix[i] = 200
		}
		dst := make([]uint8, 5)
		fillUint8Input(dst, gray, 4, 4)
		assert.Equal(t, []uint8{200, 200, 200, 0, 0}, dst)
	})
}

func TestDetermineThreadCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, min(2, runtime.NumCPU()), determineThreadCount(2))
	got := determineThreadCount(0)
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, maxInferenceThreads)
}
