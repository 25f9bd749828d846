package inference

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/scan4stroke/features"
	"github.com/nvr-ai/scan4stroke/preprocess"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// fakeModel records every call and returns a fixed probability.
type fakeModel struct {
	mu          sync.Mutex
	probability float32
	err         error
	delay       time.Duration
	calls       int
	shapes      []tensor.Shape
	inputs      [][]float32
	closed      bool
	inFlight    int32
	maxInFlight int32
}

func (m *fakeModel) Predict(_ context.Context, input tensor.Tensor) (float32, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&m.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&m.maxInFlight, peak, n) {
			break
		}
	}

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	data := append([]float32(nil), input.Data().([]float32)...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.shapes = append(m.shapes, input.Shape().Clone())
	m.inputs = append(m.inputs, data)
	return m.probability, m.err
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func blackScan(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Black)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestService(t *testing.T, model Model, indices []int) *Service {
	t.Helper()

	mask, err := features.NewMask(indices, preprocess.DefaultWidth*preprocess.DefaultHeight)
	require.NoError(t, err)

	c, err := NewContext(mask, model, "GA-BiGRU", preprocess.DefaultConfig())
	require.NoError(t, err)

	return NewService(c, nil)
}

// writeChromosome stores a chromosome selecting the given positions.
func writeChromosome(t *testing.T, selected ...int) string {
	t.Helper()

	genes := make([]int64, preprocess.DefaultWidth*preprocess.DefaultHeight)
	for _, idx := range selected {
		genes[idx] = 1
	}

	path := filepath.Join(t.TempDir(), "chromosome.npy")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, npyio.Write(f, genes))
	return path
}

func TestInterpretBoundary(t *testing.T) {
	label, confidence := Interpret(0.5)
	assert.Equal(t, LabelNormal, label, "exactly 0.5 is Normal")
	assert.Equal(t, 50.0, confidence)

	label, confidence = Interpret(0.5000001)
	assert.Equal(t, LabelStroke, label, "just above 0.5 is Stroke")
	assert.InDelta(t, 50.00001, confidence, 1e-9)

	label, confidence = Interpret(0)
	assert.Equal(t, LabelNormal, label)
	assert.Equal(t, 100.0, confidence)

	label, confidence = Interpret(1)
	assert.Equal(t, LabelStroke, label)
	assert.Equal(t, 100.0, confidence)

	label, confidence = Interpret(0.25)
	assert.Equal(t, LabelNormal, label)
	assert.Equal(t, 75.0, confidence)
}

func TestInterpretMonotonic(t *testing.T) {
	prev := 50.0
	for p := 0.51; p <= 1.0; p += 0.01 {
		_, confidence := Interpret(p)
		assert.Greater(t, confidence, prev, "confidence should grow as p rises above 0.5 (p=%v)", p)
		prev = confidence
	}

	prev = 50.0
	for p := 0.49; p >= 0.0; p -= 0.01 {
		_, confidence := Interpret(p)
		assert.Greater(t, confidence, prev, "confidence should grow as p falls below 0.5 (p=%v)", p)
		prev = confidence
	}
}

func TestInfer(t *testing.T) {
	model := &fakeModel{probability: 0.83}
	svc := newTestService(t, model, []int{1, 3, 4})
	require.True(t, svc.Ready())
	require.NoError(t, svc.Err())

	result, err := svc.Infer(context.Background(), blackScan(t, 256, 256))
	require.NoError(t, err)

	assert.InDelta(t, 0.83, result.Probability, 1e-6)
	assert.Equal(t, LabelStroke, result.Label)
	assert.InDelta(t, 83.0, result.ConfidencePercent, 1e-4)
	assert.GreaterOrEqual(t, result.LatencySeconds, 0.0)
	assert.Equal(t, 3, result.FeatureCount)
	assert.Equal(t, Resolution{Width: 128, Height: 128}, result.Resolution)
	assert.Equal(t, "GA-BiGRU", result.Model)

	require.Equal(t, 1, model.callCount())
	assert.Equal(t, tensor.Shape{1, 1, 3}, model.shapes[0], "the model contract is a (1, 1, K) tensor")
	assert.Equal(t, []float32{0, 0, 0}, model.inputs[0])
}

func TestInferNormal(t *testing.T) {
	svc := newTestService(t, &fakeModel{probability: 0.5}, []int{1, 3, 4})

	result, err := svc.Infer(context.Background(), blackScan(t, 64, 64))
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, result.Label)
	assert.Equal(t, 50.0, result.ConfidencePercent)
}

func TestInferLatency(t *testing.T) {
	svc := newTestService(t, &fakeModel{probability: 0.1}, []int{0})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{start, start.Add(1500 * time.Millisecond)}
	svc.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}

	result, err := svc.Infer(context.Background(), blackScan(t, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, 1.5, result.LatencySeconds)
}

func TestInferCorruptImage(t *testing.T) {
	model := &fakeModel{probability: 0.1}
	svc := newTestService(t, model, []int{1, 3, 4})

	result, err := svc.Infer(context.Background(), []byte("\x89PNG\r\n\x1a\nbroken"))
	require.Error(t, err)

	var perr *ImageProcessingError
	require.ErrorAs(t, err, &perr, "corrupt bytes must surface as an image processing error")
	assert.Equal(t, preprocess.StageDecode, perr.Stage)
	assert.Equal(t, PredictionResult{}, result, "no default Normal result on failure")
	assert.Equal(t, 0, model.callCount(), "the model is never called for an undecodable scan")

	var predErr *PredictionError
	assert.False(t, errors.As(err, &predErr))
}

func TestInferPredictionFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "model error", model: &fakeModel{err: errors.New("shape mismatch: want 4096, got 3")}},
		{name: "nan", model: &fakeModel{probability: float32(math.NaN())}},
		{name: "inf", model: &fakeModel{probability: float32(math.Inf(1))}},
		{name: "above one", model: &fakeModel{probability: 1.5}},
		{name: "negative", model: &fakeModel{probability: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.model, []int{1, 3, 4})

			result, err := svc.Infer(context.Background(), blackScan(t, 16, 16))
			var perr *PredictionError
			require.ErrorAs(t, err, &perr)
			assert.NotNil(t, perr.Unwrap())
			assert.Equal(t, PredictionResult{}, result)
		})
	}
}

func TestInferDoesNotDoubleWrapPredictionError(t *testing.T) {
	inner := &PredictionError{Err: errors.New("boom")}
	svc := newTestService(t, &fakeModel{err: inner}, []int{0})

	_, err := svc.Infer(context.Background(), blackScan(t, 8, 8))
	assert.Same(t, inner, err)
}

func TestInferConcurrentWithSerializedModel(t *testing.T) {
	model := &fakeModel{probability: 0.7, delay: 2 * time.Millisecond}
	svc := newTestService(t, Serialize(model), []int{1, 3, 4})
	data := blackScan(t, 128, 128)

	var wg sync.WaitGroup
	results := make([]PredictionResult, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Infer(context.Background(), data)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, LabelStroke, results[i].Label)
		assert.Equal(t, results[0].Probability, results[i].Probability)
	}
	assert.Equal(t, 16, model.callCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&model.maxInFlight), "Serialize must allow one call in flight")
}

func TestSerializeClose(t *testing.T) {
	model := &fakeModel{}
	require.NoError(t, Serialize(model).Close())
	assert.True(t, model.closed)
}

func TestOpen(t *testing.T) {
	model := &fakeModel{probability: 0.2}
	var gotWidth int

	svc := Open(context.Background(), Options{
		MaskPath:   writeChromosome(t, 1, 3, 4),
		ModelPath:  "model.onnx",
		ModelName:  "GA-BiGRU",
		Resolution: preprocess.DefaultConfig(),
		Warmup:     2,
	}, func(path string, featureCount int) (Model, error) {
		assert.Equal(t, "model.onnx", path)
		gotWidth = featureCount
		return model, nil
	})

	require.True(t, svc.Ready())
	assert.Equal(t, 3, gotWidth, "the loader learns the mask width")
	assert.Equal(t, 2, model.callCount(), "warmup runs before the service is ready")
	assert.Equal(t, tensor.Shape{1, 1, 3}, model.shapes[0])
	assert.Len(t, svc.Assets(), 2)

	result, err := svc.Infer(context.Background(), blackScan(t, 256, 256))
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, result.Label)
	assert.InDelta(t, 80.0, result.ConfidencePercent, 1e-4)

	require.NoError(t, svc.Close())
	assert.True(t, model.closed)
}

// namedModel is a fakeModel that reports its graph input and output.
type namedModel struct {
	fakeModel
}

func (m *namedModel) InputName() string  { return "bigru_input" }
func (m *namedModel) OutputName() string { return "dense_1" }

func TestOpenLogsModelIO(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	svc := Open(context.Background(), Options{
		MaskPath:   writeChromosome(t, 1, 3, 4),
		ModelPath:  "model.onnx",
		ModelName:  "GA-BiGRU",
		Resolution: preprocess.DefaultConfig(),
		Logger:     logger,
	}, func(string, int) (Model, error) {
		return &namedModel{fakeModel: fakeModel{probability: 0.9}}, nil
	})
	require.True(t, svc.Ready())

	assert.Contains(t, logs.String(), `"input":"bigru_input"`)
	assert.Contains(t, logs.String(), `"output":"dense_1"`)

	_, err := svc.Infer(context.Background(), blackScan(t, 32, 32))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "preprocessed scan", "the preprocessor logs through the configured logger")
}

func TestOpenMissingMask(t *testing.T) {
	loaderCalled := false
	maskPath := filepath.Join(t.TempDir(), "GA_BiGRU_best_chromosome.npy")

	svc := Open(context.Background(), Options{
		MaskPath:   maskPath,
		ModelPath:  "model.onnx",
		Resolution: preprocess.DefaultConfig(),
	}, func(string, int) (Model, error) {
		loaderCalled = true
		return &fakeModel{}, nil
	})

	assert.False(t, svc.Ready())
	assert.False(t, loaderCalled)

	var aerr *AssetLoadError
	require.ErrorAs(t, svc.Err(), &aerr)
	assert.Equal(t, AssetMask, aerr.Asset)
	assert.Equal(t, maskPath, aerr.Path)

	_, err := svc.Infer(context.Background(), blackScan(t, 8, 8))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorAs(t, err, &aerr)
	assert.Equal(t, []AssetRef{
		{Asset: AssetModel, Path: "model.onnx"},
		{Asset: AssetMask, Path: maskPath},
	}, svc.Assets())
	assert.NoError(t, svc.Close())
}

func TestOpenEmptyMask(t *testing.T) {
	svc := Open(context.Background(), Options{
		MaskPath:   writeChromosome(t),
		Resolution: preprocess.DefaultConfig(),
	}, func(string, int) (Model, error) {
		return &fakeModel{}, nil
	})

	require.False(t, svc.Ready())
	assert.ErrorIs(t, svc.Err(), features.ErrEmptyMask)
}

func TestOpenModelFailures(t *testing.T) {
	t.Run("loader error", func(t *testing.T) {
		svc := Open(context.Background(), Options{
			MaskPath:   writeChromosome(t, 5),
			ModelPath:  "missing.onnx",
			Resolution: preprocess.DefaultConfig(),
		}, func(string, int) (Model, error) {
			return nil, errors.New("no such file")
		})

		require.False(t, svc.Ready())
		var aerr *AssetLoadError
		require.ErrorAs(t, svc.Err(), &aerr)
		assert.Equal(t, AssetModel, aerr.Asset)
		assert.Equal(t, "missing.onnx", aerr.Path)
	})

	t.Run("warmup error closes the model", func(t *testing.T) {
		model := &fakeModel{err: errors.New("input width mismatch")}
		svc := Open(context.Background(), Options{
			MaskPath:   writeChromosome(t, 5, 6),
			ModelPath:  "model.onnx",
			Resolution: preprocess.DefaultConfig(),
			Warmup:     1,
		}, func(string, int) (Model, error) {
			return model, nil
		})

		require.False(t, svc.Ready())
		var aerr *AssetLoadError
		require.ErrorAs(t, svc.Err(), &aerr)
		assert.Equal(t, AssetModel, aerr.Asset)
		assert.True(t, model.closed)
	})

	t.Run("warmup rejects non-probability output", func(t *testing.T) {
		svc := Open(context.Background(), Options{
			MaskPath:   writeChromosome(t, 5),
			Resolution: preprocess.DefaultConfig(),
			Warmup:     1,
		}, func(string, int) (Model, error) {
			return &fakeModel{probability: float32(math.NaN())}, nil
		})
		assert.False(t, svc.Ready())
	})
}

func TestUnavailableWithoutError(t *testing.T) {
	svc := Unavailable(nil, nil, nil)
	assert.False(t, svc.Ready())
	assert.Error(t, svc.Err())

	_, err := svc.Infer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewContextRejectsNilModel(t *testing.T) {
	mask, err := features.NewMask([]int{0}, preprocess.DefaultWidth*preprocess.DefaultHeight)
	require.NoError(t, err)

	_, err = NewContext(mask, nil, "", preprocess.DefaultConfig())
	assert.Error(t, err)
}
