// Package generator は 1 枚の入力画像から再構成用の 4 ビューを作るパイプラインを組み立てます。
package generator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shouni/multiview-image-kit/pkg/consistency"
	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/enhance"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
	"github.com/shouni/multiview-image-kit/pkg/seed"
)

// Config は Orchestrator の振る舞いを切り替える設定です。
type Config struct {
	PrimaryMode   PrimaryMode
	ReturnImages  bool // 結果に正面ビューの編集画像と背景除去画像を含める
	DefaultParams domain.ReconstructionParams
	WarmUp        bool // Start 時にダミーリクエストを 1 回流す
}

// Orchestrator はコラボレーターを順に呼び出してビューを揃え、再構成まで実行します。
// デバイスは 1 つとみなし、同時に処理するリクエストは 1 件だけです。
type Orchestrator struct {
	editor        Editor
	remover       BackgroundRemover
	reconstructor Reconstructor
	cfg           Config

	logger   *slog.Logger
	recorder Recorder
	sink     ArtifactSink

	resolver   *seed.Resolver
	propagator *seed.Propagator
	rng        *seed.RandSource

	enhancer   *enhance.Enhancer
	calibrator *consistency.Calibrator
	normalizer *consistency.Normalizer
	validator  *consistency.Validator

	slot         chan struct{}
	lifecycleMu  sync.Mutex
	ready        atomic.Bool
	freeOSMemory func()
	extraSinks   []seed.Sink
}

// Option は Orchestrator の任意の依存関係を設定します。
type Option func(*Orchestrator)

// WithLogger はロガーを設定します。
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder はメトリクスの送り先を設定します。
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithArtifactSink は生成物の保存先を設定します。nil なら保存しません。
func WithArtifactSink(s ArtifactSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithSeedResolver はシードの自動選択範囲を差し替えます。
func WithSeedResolver(r *seed.Resolver) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithSeedSinks はリクエストごとにシードを受け取る乱数源を追加します。
func WithSeedSinks(sinks ...seed.Sink) Option {
	return func(o *Orchestrator) { o.extraSinks = append(o.extraSinks, sinks...) }
}

// NewOrchestrator は依存関係を注入して Orchestrator を初期化します。
// Start が成功するまでリクエストは domain.ErrNotReady で失敗します。
func NewOrchestrator(editor Editor, remover BackgroundRemover, reconstructor Reconstructor, cfg Config, opts ...Option) (*Orchestrator, error) {
	if editor == nil {
		return nil, fmt.Errorf("editor is required")
	}
	if remover == nil {
		return nil, fmt.Errorf("remover is required")
	}
	if reconstructor == nil {
		return nil, fmt.Errorf("reconstructor is required")
	}
	if cfg.PrimaryMode == "" {
		cfg.PrimaryMode = PrimaryEdit
	}
	if _, err := ParsePrimaryMode(string(cfg.PrimaryMode)); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		editor:        editor,
		remover:       remover,
		reconstructor: reconstructor,
		cfg:           cfg,
		logger:        slog.Default(),
		recorder:      nopRecorder{},
		resolver:      seed.MustDefault(),
		rng:           seed.NewRandSource(),
		validator:     consistency.NewValidator(),
		slot:          make(chan struct{}, 1),
		freeOSMemory:  debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.enhancer = enhance.New(o.logger)
	o.calibrator = consistency.NewCalibrator(o.logger)
	o.normalizer = consistency.NewNormalizer(o.logger)

	o.propagator = seed.NewPropagator(o.logger, o.rng)
	for _, c := range []any{editor, remover, reconstructor} {
		if s, ok := c.(seed.Sink); ok {
			o.propagator.Register(s)
		}
	}
	o.propagator.Register(o.extraSinks...)

	return o, nil
}

// Ready はリクエストを受け付けられる状態かを返します。
func (o *Orchestrator) Ready() bool {
	return o.ready.Load()
}

// Rand はリクエストごとに再シードされる汎用乱数源です。
func (o *Orchestrator) Rand() *seed.RandSource {
	return o.rng
}

// Generate は 1 件のリクエストを処理します。
// スロット待ちの間は ctx のキャンセルに従いますが、処理が始まった後は最後まで実行します。
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if !o.ready.Load() {
		return nil, domain.ErrNotReady
	}
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.release()

	// Stop がスロットを待っている間に割り込んだ場合
	if !o.ready.Load() {
		return nil, domain.ErrNotReady
	}
	return o.run(context.WithoutCancel(ctx), req, false)
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() {
	<-o.slot
}

// run はスロットを保持した状態で呼び出します。
func (o *Orchestrator) run(ctx context.Context, req domain.GenerationRequest, warmUp bool) (*domain.GenerationResult, error) {
	start := time.Now()
	tr := &tracker{recorder: o.recorder, state: StateIdle}
	defer o.reclaim(ctx)

	o.logger.InfoContext(ctx, "新しい生成リクエスト", "warm_up", warmUp, "requested_seed", req.Seed)

	result, arts, err := o.pipeline(ctx, req, tr)
	elapsed := time.Since(start)

	status := "ok"
	if warmUp {
		status = "warm_up"
	}
	if err != nil {
		tr.to(StateFailed)
		o.recorder.ObserveRequest("error", elapsed)
		o.logger.ErrorContext(ctx, "生成に失敗しました", "error", err, "elapsed", elapsed)
		return nil, err
	}
	result.Elapsed = elapsed
	arts.Elapsed = elapsed

	if o.sink != nil && !warmUp {
		saveStart := time.Now()
		saveErr := o.sink.Save(ctx, arts)
		o.recorder.ObserveStage(StageSave, time.Since(saveStart), saveErr)
		if saveErr != nil {
			o.logger.WarnContext(ctx, "生成物の保存に失敗しました", "error", saveErr)
		}
	}

	tr.to(StateDone)
	o.recorder.ObserveRequest(status, elapsed)
	o.logger.InfoContext(ctx, "生成が完了しました", "seed", result.Seed, "elapsed", elapsed, "consistent", result.Report.Passed)
	return result, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, req domain.GenerationRequest, tr *tracker) (*domain.GenerationResult, Artifacts, error) {
	var arts Artifacts

	resolved := o.resolver.Resolve(req.Seed)
	o.propagator.Apply(ctx, resolved)
	tr.to(StateSeedResolved)

	t := time.Now()
	source, err := imgutil.Decode(req.Image)
	o.recorder.ObserveStage(StageDecode, time.Since(t), err)
	if err != nil {
		return nil, arts, &StageError{Stage: StageDecode, Err: err}
	}

	t = time.Now()
	enhanced := o.enhancer.Enhance(ctx, source)
	o.recorder.ObserveStage(StageEnhance, time.Since(t), nil)

	edited := make([]domain.View, 0, domain.ViewCount)
	views := make([]domain.View, 0, domain.ViewCount)
	for _, role := range domain.Roles {
		e, v, err := o.view(ctx, role, source, enhanced, resolved)
		if err != nil {
			return nil, arts, err
		}
		edited = append(edited, e)
		views = append(views, v)
		tr.to(readyState(role))
	}

	t = time.Now()
	norm := o.normalizer.Normalize(ctx, views)
	o.recorder.ObserveStage(StageNormalize, time.Since(t), norm.Err)
	if norm.Fallback {
		o.recorder.IncFallback("normalizer")
	}
	views = norm.Views
	tr.to(StateLightingNormalized)

	t = time.Now()
	report := o.validator.Validate(views, source)
	o.recorder.ObserveStage(StageValidate, time.Since(t), nil)
	if !report.Passed {
		o.recorder.IncConsistencyFailure()
		o.logger.WarnContext(ctx, "ビュー間の整合性チェックに失敗しました（生成は続行します）", "reasons", report.Reasons)
	}
	tr.to(StateValidated)

	params := o.cfg.DefaultParams.Override(req.Params)
	t = time.Now()
	artifact, err := o.reconstructor.Reconstruct(ctx, ReconstructionRequest{Views: views, Seed: resolved, Params: params})
	if err == nil && len(artifact) == 0 {
		err = errors.New("reconstructor returned an empty artifact")
	}
	o.recorder.ObserveStage(StageReconstruct, time.Since(t), err)
	if err != nil {
		return nil, arts, &StageError{Stage: StageReconstruct, Err: asInference(err)}
	}
	tr.to(StateReconstructed)

	result := &domain.GenerationResult{Artifact: artifact, Seed: resolved, Report: report}
	if o.cfg.ReturnImages {
		result.PrimaryEdited = edited[0].Image
		result.PrimaryNoBackground = views[0].Image
	}
	arts = Artifacts{
		Seed:         resolved,
		Params:       params,
		Source:       source,
		Edited:       edited,
		NoBackground: views,
		Artifact:     artifact,
		Report:       report,
	}
	return result, arts, nil
}

// view は 1 つの役割について編集後と背景除去後のビューを返します。
func (o *Orchestrator) view(ctx context.Context, role domain.Role, source, enhanced *image.NRGBA, s int64) (domain.View, domain.View, error) {
	var edited *image.NRGBA
	switch {
	case role != domain.RolePrimary:
		img, err := o.edit(ctx, role, source, s)
		if err != nil {
			return domain.View{}, domain.View{}, err
		}
		t := time.Now()
		cal := o.calibrator.Calibrate(ctx, source, img)
		o.recorder.ObserveStage(StageCalibrate, time.Since(t), cal.Err)
		if cal.Fallback {
			o.recorder.IncFallback("calibrator")
		}
		edited = cal.Image
	case o.cfg.PrimaryMode == PrimaryEdit:
		img, err := o.edit(ctx, role, enhanced, s)
		if err != nil {
			return domain.View{}, domain.View{}, err
		}
		edited = img
	default:
		edited = enhanced
	}

	t := time.Now()
	nb, err := o.remover.RemoveBackground(ctx, edited)
	if err == nil {
		err = checkOutput(nb)
	}
	o.recorder.ObserveStage(StageRemoveBG, time.Since(t), err)
	if err != nil {
		return domain.View{}, domain.View{}, &StageError{Stage: StageRemoveBG, Role: role, Err: asInference(err)}
	}
	return domain.View{Role: role, Image: edited}, domain.View{Role: role, Image: nb}, nil
}

func (o *Orchestrator) edit(ctx context.Context, role domain.Role, img *image.NRGBA, s int64) (*image.NRGBA, error) {
	t := time.Now()
	out, err := o.editor.Edit(ctx, img, s, Instruction(role))
	if err == nil {
		err = checkOutput(out)
	}
	o.recorder.ObserveStage(StageEdit, time.Since(t), err)
	if err != nil {
		return nil, &StageError{Stage: StageEdit, Role: role, Err: asInference(err)}
	}
	return out, nil
}

// reclaim はどの経路で終了しても呼ばれます。
func (o *Orchestrator) reclaim(ctx context.Context) {
	for _, c := range []any{o.editor, o.remover, o.reconstructor} {
		r, ok := c.(MemoryReclaimer)
		if !ok {
			continue
		}
		if err := r.ReclaimMemory(ctx); err != nil {
			o.logger.WarnContext(ctx, "メモリ解放に失敗しました", "error", err)
		}
	}
	o.freeOSMemory()
}

func checkOutput(img *image.NRGBA) error {
	if img == nil || img.Rect.Empty() {
		return errors.New("collaborator returned no image")
	}
	return nil
}

// asInference はコラボレーターのエラーを domain.ErrInference として扱えるようにします。
func asInference(err error) error {
	if errors.Is(err, domain.ErrInference) || errors.Is(err, domain.ErrNotReady) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInference, err)
}

// tracker はリクエストの状態遷移を記録します。
type tracker struct {
	recorder Recorder
	state    State
}

func (t *tracker) to(next State) {
	t.recorder.ObserveTransition(t.state, next)
	t.state = next
}
