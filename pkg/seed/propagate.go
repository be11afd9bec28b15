package seed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Sink はシードを受け取る乱数サブシステムです。
type Sink interface {
	ApplySeed(seed int64)
}

// DeterministicSink は再現モードの切り替えを持つ Sink です。
type DeterministicSink interface {
	Sink
	SetDeterministic(enabled bool)
}

// Propagator は登録されたすべての Sink に同じシードを配布します。
type Propagator struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *slog.Logger
}

// NewPropagator は Propagator を初期化します。
func NewPropagator(logger *slog.Logger, sinks ...Sink) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Propagator{logger: logger}
	p.Register(sinks...)
	return p
}

// Register は Sink を追加します。nil は無視します。
func (p *Propagator) Register(sinks ...Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// Apply は確率的な呼び出しの前に一度だけ呼び出します。
func (p *Propagator) Apply(ctx context.Context, seed int64) {
	p.mu.Lock()
	sinks := append([]Sink(nil), p.sinks...)
	p.mu.Unlock()

	for _, s := range sinks {
		if d, ok := s.(DeterministicSink); ok {
			d.SetDeterministic(true)
		}
		s.ApplySeed(seed)
	}
	p.logger.DebugContext(ctx, "シードを配布しました", "seed", seed, "sinks", len(sinks))
}

// RandSource はプロセス共通の汎用乱数源です。
type RandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource はシード 0 で初期化された RandSource を返します。
func NewRandSource() *RandSource {
	s := &RandSource{}
	s.ApplySeed(0)
	return s
}

// ApplySeed は PCG を seed で初期化し直します。
func (s *RandSource) ApplySeed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// Int64N は [0, n) の乱数を返します。
func (s *RandSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int64N(n)
}

// Float64 は [0, 1) の乱数を返します。
func (s *RandSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
