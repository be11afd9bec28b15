package generator

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

// ウォームアップ用リクエストの固定値
const (
	WarmUpSize = 64
	WarmUpSeed = 42
)

type namedLifecycle struct {
	name string
	lc   Lifecycle
}

// collaborators は起動・停止の固定順序です。
func (o *Orchestrator) collaborators() []namedLifecycle {
	return []namedLifecycle{
		{"editor", o.editor},
		{"remover", o.remover},
		{"reconstructor", o.reconstructor},
	}
}

// Start は editor → remover → reconstructor の順に起動し、設定されていればウォームアップを行います。
// 途中で失敗した場合は起動済みのものを停止してからエラーを返します。
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.ready.Load() {
		return nil
	}

	var started []namedLifecycle
	for _, c := range o.collaborators() {
		o.logger.InfoContext(ctx, "コラボレーターを起動します", "name", c.name)
		err := c.lc.Start(ctx)
		if err == nil && !c.lc.Ready() {
			err = fmt.Errorf("%w: %s did not report ready", domain.ErrNotReady, c.name)
		}
		if err != nil {
			return errors.Join(fmt.Errorf("start %s: %w", c.name, err), o.stopAll(ctx, started))
		}
		started = append(started, c)
	}

	if o.cfg.WarmUp {
		if err := o.warmUp(ctx); err != nil {
			return errors.Join(fmt.Errorf("warm-up: %w", err), o.stopAll(ctx, started))
		}
	}

	o.ready.Store(true)
	o.logger.InfoContext(ctx, "パイプラインの準備が完了しました")
	return nil
}

// Stop は新規リクエストの受付を止め、処理中のリクエストが終わるのを待ってから
// Start と同じ順序で停止します。
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	wasReady := o.ready.Swap(false)
	if err := o.acquire(ctx); err != nil {
		// コラボレーターは動いたままなので受付を再開する
		o.ready.Store(wasReady)
		return fmt.Errorf("waiting for in-flight request: %w", err)
	}
	defer o.release()

	return o.stopAll(ctx, o.collaborators())
}

func (o *Orchestrator) stopAll(ctx context.Context, cs []namedLifecycle) error {
	var errs []error
	for _, c := range cs {
		if err := c.lc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// warmUp は 64x64 の灰色画像をシード 42 で 1 回処理します。メモリ解放は run の中で行われます。
func (o *Orchestrator) warmUp(ctx context.Context) error {
	img := imgutil.Uniform(WarmUpSize, WarmUpSize, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	data, err := imgutil.EncodePNG(img)
	if err != nil {
		return err
	}

	if err := o.acquire(ctx); err != nil {
		return err
	}
	defer o.release()

	_, err = o.run(context.WithoutCancel(ctx), domain.GenerationRequest{Image: data, Seed: WarmUpSeed}, true)
	return err
}
