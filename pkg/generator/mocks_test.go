package generator

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// --- Mocks ---

type mockLifecycle struct {
	startErr  error
	stopErr   error
	notReady  bool
	started   bool
	order     *[]string
	name      string
	reclaimed int
}

func (m *mockLifecycle) Start(ctx context.Context) error {
	if m.order != nil {
		*m.order = append(*m.order, "start:"+m.name)
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockLifecycle) Stop(ctx context.Context) error {
	if m.order != nil {
		*m.order = append(*m.order, "stop:"+m.name)
	}
	m.started = false
	return m.stopErr
}

func (m *mockLifecycle) Ready() bool { return m.started && !m.notReady }

func (m *mockLifecycle) ReclaimMemory(ctx context.Context) error {
	m.reclaimed++
	return nil
}

type editCall struct {
	seed        int64
	instruction string
	bounds      image.Rectangle
}

type mockEditor struct {
	mockLifecycle
	editFunc func(ctx context.Context, img *image.NRGBA, seed int64, instruction string) (*image.NRGBA, error)
	calls    []editCall
	seeds    []int64
}

func (m *mockEditor) Edit(ctx context.Context, img *image.NRGBA, seed int64, instruction string) (*image.NRGBA, error) {
	m.calls = append(m.calls, editCall{seed: seed, instruction: instruction, bounds: img.Rect})
	if m.editFunc != nil {
		return m.editFunc(ctx, img, seed, instruction)
	}
	return domain.CloneImage(img), nil
}

// ApplySeed により seed.Sink としても登録される
func (m *mockEditor) ApplySeed(seed int64) {
	m.seeds = append(m.seeds, seed)
}

type mockRemover struct {
	mockLifecycle
	removeFunc func(img *image.NRGBA) (*image.NRGBA, error)
	calls      int
}

func (m *mockRemover) RemoveBackground(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	m.calls++
	if m.removeFunc != nil {
		return m.removeFunc(img)
	}
	return domain.CloneImage(img), nil
}

type mockReconstructor struct {
	mockLifecycle
	reconstructFunc func(req ReconstructionRequest) ([]byte, error)
	requests        []ReconstructionRequest
}

func (m *mockReconstructor) Reconstruct(ctx context.Context, req ReconstructionRequest) ([]byte, error) {
	if !m.Ready() {
		return nil, domain.ErrNotReady
	}
	m.requests = append(m.requests, req)
	if m.reconstructFunc != nil {
		return m.reconstructFunc(req)
	}
	return []byte("ply"), nil
}

type mockSink struct {
	saved []Artifacts
	err   error
}

func (m *mockSink) Save(ctx context.Context, a Artifacts) error {
	m.saved = append(m.saved, a)
	return m.err
}

type mockRecorder struct {
	mu          sync.Mutex
	requests    []string
	stages      map[Stage]int
	transitions []State
	fallbacks   map[string]int
	failures    int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{stages: map[Stage]int{}, fallbacks: map[string]int{}}
}

func (m *mockRecorder) ObserveRequest(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, status)
}

func (m *mockRecorder) ObserveStage(stage Stage, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage]++
}

func (m *mockRecorder) ObserveTransition(_, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *mockRecorder) IncFallback(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[component]++
}

func (m *mockRecorder) IncConsistencyFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}
