package consistency

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// CalibrationResult は色補正の結果です。
// Fallback が true の場合、Image は補正前の edited そのものです。
type CalibrationResult struct {
	Image      *image.NRGBA
	Correction domain.ColorCorrection
	Fallback   bool
	Err        error
}

// Calibrator は生成モデルで編集されたビューの色味を参照画像に合わせます。
type Calibrator struct {
	logger *slog.Logger
}

// NewCalibrator は Calibrator を作ります。
func NewCalibrator(logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{logger: logger}
}

// Calibrate は edited のチャンネル平均を reference に寄せた新しい画像を返します。
// 失敗しても生成は止めず、edited をそのまま返します。
func (c *Calibrator) Calibrate(ctx context.Context, reference, edited *image.NRGBA) (res CalibrationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = c.fallback(ctx, edited, fmt.Errorf("calibration panicked: %v", r))
		}
	}()

	refMeans, err := ChannelMeans(reference)
	if err != nil {
		return c.fallback(ctx, edited, fmt.Errorf("reference: %w", err))
	}
	editedMeans, err := ChannelMeans(edited)
	if err != nil {
		return c.fallback(ctx, edited, fmt.Errorf("edited: %w", err))
	}

	correction := ComputeCorrection(refMeans, editedMeans)
	return CalibrationResult{
		Image:      scale(edited, correction),
		Correction: correction,
	}
}

func (c *Calibrator) fallback(ctx context.Context, edited *image.NRGBA, err error) CalibrationResult {
	c.logger.WarnContext(ctx, "色補正に失敗したため元の画像を使います", "error", err)
	return CalibrationResult{
		Image:      edited,
		Correction: domain.IdentityCorrection,
		Fallback:   true,
		Err:        err,
	}
}

// ComputeCorrection はチャンネルごとの補正係数を計算します。
// edited の平均が 0 のチャンネルは 1.0 とします。
func ComputeCorrection(reference, edited [3]float64) domain.ColorCorrection {
	correction := domain.IdentityCorrection
	for ch := 0; ch < 3; ch++ {
		if edited[ch] != 0 {
			correction[ch] = domain.ClampCorrection(reference[ch] / edited[ch])
		}
	}
	return correction
}
