package server

import (
	"context"
	"sync"
	"time"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// --- Mocks ---

type mockGenerator struct {
	ready        bool
	generateFunc func(req domain.GenerationRequest) (*domain.GenerationResult, error)
	requests     []domain.GenerationRequest
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	m.requests = append(m.requests, req)
	if m.generateFunc != nil {
		return m.generateFunc(req)
	}
	return &domain.GenerationResult{Artifact: []byte("ply-bytes"), Seed: req.Seed, Elapsed: 2 * time.Second}, nil
}

func (m *mockGenerator) Ready() bool { return m.ready }

type httpCall struct {
	method, path string
	status       int
}

type mockHTTPRecorder struct {
	mu    sync.Mutex
	calls []httpCall
}

func (m *mockHTTPRecorder) RecordHTTPRequest(method, path string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, httpCall{method: method, path: path, status: status})
}
