package onnx

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ErrClosed is returned by Predict after Close.
var ErrClosed = errors.New("model is closed")

// session is one ONNX Runtime session with its preallocated tensors. A session
// is used by one prediction at a time.
type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// destroy releases whatever parts of the session were created.
func (s *session) destroy() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if s.session != nil {
		keep(s.session.Destroy())
	}
	if s.input != nil {
		keep(s.input.Destroy())
	}
	if s.output != nil {
		keep(s.output.Destroy())
	}
	return first
}

// Model runs the classifier through a fixed pool of sessions. Predict blocks
// until a session is free, so PoolSize bounds the concurrent predictions.
type Model struct {
	config       Config
	binding      binding
	activation   Activation
	featureCount int
	pool         chan *session
	sessions     []*session
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

// NewModel opens the model and creates the session pool.
//
// Arguments:
//   - cfg: The runtime configuration.
//   - featureCount: The width of the feature vector the model will be fed.
//
// Returns:
//   - *Model: The model handle.
//   - error: An error if the runtime, the file or its declared shapes are unusable.
func NewModel(cfg Config, featureCount int) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if featureCount < 1 {
		return nil, errors.Errorf("feature count must be positive, got %d", featureCount)
	}
	activation, err := ParseActivation(string(cfg.Activation))
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(cfg.SharedLibPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		releaseEnvironment()
		return nil, errors.Wrapf(err, "read model %s", cfg.ModelPath)
	}
	b, err := resolveBinding(inputs, outputs, cfg.InputName, cfg.OutputName, featureCount)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}

	options, err := newSessionOptions(cfg)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	defer options.Destroy()

	m := &Model{
		config:       cfg,
		binding:      b,
		activation:   activation,
		featureCount: featureCount,
		pool:         make(chan *session, cfg.PoolSize),
		done:         make(chan struct{}),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		s, err := newSession(cfg.ModelPath, b, options)
		if err != nil {
			m.destroySessions()
			releaseEnvironment()
			return nil, errors.Wrapf(err, "create session %d", i+1)
		}
		m.sessions = append(m.sessions, s)
		m.pool <- s
	}

	return m, nil
}

func newSession(path string, b binding, options *ort.SessionOptions) (*session, error) {
	input, err := ort.NewEmptyTensor[float32](b.inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](b.outputShape)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	s, err := ort.NewAdvancedSession(
		path,
		[]string{b.input},
		[]string{b.output},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session")
	}

	return &session{session: s, input: input, output: output}, nil
}

// InputName returns the graph input being fed.
func (m *Model) InputName() string {
	return m.binding.input
}

// OutputName returns the graph output being read.
func (m *Model) OutputName() string {
	return m.binding.output
}

// Predict runs one (1, 1, K) float32 tensor through the model and returns the
// first output value after the configured activation.
//
// Arguments:
//   - ctx: Cancels the wait for a free session; a running session is not interrupted.
//   - input: The feature tensor.
//
// Returns:
//   - float32: The stroke probability.
//   - error: An error if the tensor does not fit, the model is closed or the run fails.
func (m *Model) Predict(ctx context.Context, input tensor.Tensor) (float32, error) {
	if !input.Shape().Eq(tensor.Shape{1, 1, m.featureCount}) {
		return 0, errors.Errorf("input shape %v, want (1, 1, %d)", input.Shape(), m.featureCount)
	}
	values, ok := input.Data().([]float32)
	if !ok {
		return 0, errors.Errorf("input dtype %v, want float32", input.Dtype())
	}

	var s *session
	select {
	case <-m.done:
		return 0, ErrClosed
	default:
	}
	select {
	case s = <-m.pool:
	case <-m.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { m.pool <- s }()

	copy(s.input.GetData(), values)
	if err := s.session.Run(); err != nil {
		return 0, errors.Wrap(err, "run session")
	}

	out := s.output.GetData()
	if len(out) == 0 {
		return 0, errors.New("model produced no output")
	}
	return m.activation.Apply(out[0]), nil
}

// Close waits for running predictions, destroys every session and releases
// the runtime. Later calls return the first result.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		for range m.sessions {
			<-m.pool
		}
		m.closeErr = m.destroySessions()
		if err := releaseEnvironment(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}

func (m *Model) destroySessions() error {
	var first error
	for _, s := range m.sessions {
		if err := s.destroy(); err != nil && first == nil {
			first = err
		}
	}
	m.sessions = nil
	return first
}
