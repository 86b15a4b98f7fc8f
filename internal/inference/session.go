// Package inference loads restoration models into ONNX Runtime and runs them
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnv names the environment variable holding the ONNX Runtime shared
// library path
const LibraryEnv = "ONNXRUNTIME_LIB"

var (
	initialized bool
	initMu      sync.Mutex
)

// DefaultLibraryPath returns the shared library name for the current platform
func DefaultLibraryPath() string {
	if p := os.Getenv(LibraryEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Initialize sets up the ONNX Runtime environment (call once at startup);
// an empty libPath selects DefaultLibraryPath
func Initialize(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}
	if libPath == "" {
		libPath = DefaultLibraryPath()
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime from %s: %w", libPath, err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

func isInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Session wraps an ONNX Runtime session for one model file
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	policy      Policy
	inputs      map[string]TensorSpec
	inputNames  []string
	outputs     []TensorSpec
	outputNames []string

	mu     sync.Mutex
	closed bool
	active map[*ort.RunOptions]struct{}
	runs   sync.WaitGroup
}

var _ Backend = (*Session)(nil)

// Load opens the model at path with the given policy. Initialize must have
// been called first
func Load(path string, policy Policy) (*Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Kind: FileMissing, Path: path, Err: err}
	}
	if !isInitialized() {
		return nil, &LoadError{Kind: IncompatibleRuntime, Path: path, Err: errors.New("ONNX Runtime not initialized, call Initialize() first")}
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, &LoadError{Kind: UnreadableFormat, Path: path, Err: err}
	}

	s := &Session{
		modelPath: path,
		policy:    policy,
		inputs:    make(map[string]TensorSpec, len(inInfo)),
		active:    make(map[*ort.RunOptions]struct{}),
	}
	for _, info := range inInfo {
		spec := specFromInfo(info)
		s.inputs[spec.Name] = spec
		s.inputNames = append(s.inputNames, spec.Name)
	}
	for _, info := range outInfo {
		spec := specFromInfo(info)
		s.outputs = append(s.outputs, spec)
		s.outputNames = append(s.outputNames, spec.Name)
	}

	options, err := newSessionOptions(policy)
	if err != nil {
		return nil, &LoadError{Kind: IncompatibleRuntime, Path: path, Err: err}
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, s.inputNames, s.outputNames, options)
	if err != nil {
		return nil, &LoadError{Kind: UnreadableFormat, Path: path, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	s.session = session

	return s, nil
}

func newSessionOptions(policy Policy) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if policy.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(policy.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	if policy.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(policy.InterOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
		}
	}
	if err := options.SetGraphOptimizationLevel(ortOptLevel(policy.Optimization)); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set optimization level: %w", err)
	}

	return options, nil
}

func ortOptLevel(l OptLevel) ort.GraphOptimizationLevel {
	switch l {
	case OptBasic:
		return ort.GraphOptimizationLevelEnableBasic
	case OptExtended:
		return ort.GraphOptimizationLevelEnableExtended
	case OptAll:
		return ort.GraphOptimizationLevelEnableAll
	default:
		return ort.GraphOptimizationLevelDisableAll
	}
}

func specFromInfo(info ort.InputOutputInfo) TensorSpec {
	spec := TensorSpec{
		Name:        info.Name,
		ElementType: Other,
		Shape:       append([]int64(nil), info.Dimensions...),
	}
	if info.OrtValueType != ort.ONNXTypeTensor {
		return spec
	}
	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		spec.ElementType = Float32
	case ort.TensorElementDataTypeFloat16:
		spec.ElementType = Float16
	case ort.TensorElementDataTypeInt64:
		spec.ElementType = Int64
	}
	return spec
}

// Name returns the model file name
func (s *Session) Name() string {
	return filepath.Base(s.modelPath)
}

// Path returns the model path the session was loaded from
func (s *Session) Path() string {
	return s.modelPath
}

// Policy returns the settings the session was created with
func (s *Session) Policy() Policy {
	return s.policy
}

// Introspect returns the model's input and output descriptors
func (s *Session) Introspect() (map[string]TensorSpec, []TensorSpec) {
	return s.inputs, s.outputs
}

// Run executes one inference. Ending ctx terminates the run inside ONNX
// Runtime and yields a RunError of kind InferenceAborted
func (s *Session) Run(ctx context.Context, bindings []Binding) ([]Value, error) {
	if err := ValidateBindings(s.inputs, bindings); err != nil {
		return nil, err
	}

	opts, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end(opts)

	byName := make(map[string]Binding, len(bindings))
	for _, b := range bindings {
		byName[b.Name] = b
	}

	inputs := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		b := byName[name]
		tensor, err := ort.NewTensor(ort.NewShape(b.Shape...), b.Data)
		if err != nil {
			return nil, &RunError{Kind: BackendError, Detail: "failed to create input tensor " + name, Err: err}
		}
		inputs = append(inputs, tensor)
	}

	// nil outputs are allocated by the runtime
	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = opts.Terminate() })
	err = s.session.RunWithOptions(inputs, outputs, opts)
	stop()
	if err != nil {
		if ctx.Err() != nil || s.isClosed() {
			return nil, &RunError{Kind: InferenceAborted, Err: err}
		}
		return nil, &RunError{Kind: BackendError, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &RunError{Kind: InferenceAborted, Err: err}
	}

	results := make([]Value, len(outputs))
	for i, v := range outputs {
		if v == nil {
			return nil, &RunError{Kind: OutputShapeUnexpected, Detail: fmt.Sprintf("output %q missing", s.outputNames[i])}
		}
		results[i] = Value{Shape: append([]int64(nil), v.GetShape()...)}
		if t, ok := v.(*ort.Tensor[float32]); ok {
			// runtime-owned memory is freed by Destroy
			results[i].Data = append([]float32(nil), t.GetData()...)
		}
	}
	return results, nil
}

// begin registers a run so Close can terminate it
func (s *Session) begin() (*ort.RunOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &RunError{Kind: InferenceAborted, Detail: "session closed"}
	}
	opts, err := ort.NewRunOptions()
	if err != nil {
		return nil, &RunError{Kind: BackendError, Detail: "failed to create run options", Err: err}
	}
	s.active[opts] = struct{}{}
	s.runs.Add(1)
	return opts, nil
}

func (s *Session) end(opts *ort.RunOptions) {
	s.mu.Lock()
	delete(s.active, opts)
	s.mu.Unlock()

	_ = opts.Destroy()
	s.runs.Done()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates in-flight runs, waits for them to return and releases the
// session. It is idempotent
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for opts := range s.active {
		_ = opts.Terminate()
	}
	s.mu.Unlock()

	s.runs.Wait()

	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
