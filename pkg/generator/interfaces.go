package generator

import (
	"context"
	"image"
	"time"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// Lifecycle は重いモデルを抱えるコラボレーターの起動と停止を表します。
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ready() bool
}

// Editor は指示文に従って画像を編集する生成モデルです。
type Editor interface {
	Lifecycle
	// Edit は同じ入力・シード・指示文に対して同じ結果を返すことが期待されます。
	Edit(ctx context.Context, img *image.NRGBA, seed int64, instruction string) (*image.NRGBA, error)
}

// BackgroundRemover は前景だけを残した画像を返します。
type BackgroundRemover interface {
	Lifecycle
	RemoveBackground(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error)
}

// Reconstructor は順序付きのビュー群から 3D 成果物を作ります。
type Reconstructor interface {
	Lifecycle
	// Reconstruct は Start 前に呼ばれた場合 domain.ErrNotReady を返します。
	Reconstruct(ctx context.Context, req ReconstructionRequest) ([]byte, error)
}

// MemoryReclaimer はリクエストごとにキャッシュやデバイスメモリを解放できるコラボレーターが実装します。
type MemoryReclaimer interface {
	ReclaimMemory(ctx context.Context) error
}

// ArtifactSink は生成途中の画像と成果物を保存します。
type ArtifactSink interface {
	Save(ctx context.Context, artifacts Artifacts) error
}

// Recorder はパイプラインの観測値を受け取ります。
type Recorder interface {
	ObserveRequest(status string, elapsed time.Duration)
	ObserveStage(stage Stage, elapsed time.Duration, err error)
	ObserveTransition(from, to State)
	IncFallback(component string)
	IncConsistencyFailure()
}

// nopRecorder は Recorder が渡されなかった場合に使います。
type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, time.Duration) {}
func (nopRecorder) ObserveStage(Stage, time.Duration, error) {}
func (nopRecorder) ObserveTransition(State, State) {}
func (nopRecorder) IncFallback(string) {}
func (nopRecorder) IncConsistencyFailure() {}

// Artifacts は ArtifactSink に渡す 1 リクエスト分の生成物です。
type Artifacts struct {
	Seed         int64
	Params       domain.ReconstructionParams
	Source       *image.NRGBA
	Edited       []domain.View // 背景除去前
	NoBackground []domain.View // 再構成に渡した最終ビュー
	Artifact     []byte
	Report       domain.ConsistencyReport
	Elapsed      time.Duration
}
