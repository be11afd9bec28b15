package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// NormalizationResult は明るさ正規化の結果です。
// Fallback が true の場合、Views は入力そのものです。
type NormalizationResult struct {
	Views    []domain.View
	Factors  []float64
	Target   float64
	Fallback bool
	Err      error
}

// Normalizer はビュー群の明るさを中央値に揃えます。
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer は Normalizer を作ります。
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize は入力と同じ順序で新しいビュー群を返します。
func (n *Normalizer) Normalize(ctx context.Context, views []domain.View) (res NormalizationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = n.fallback(ctx, views, fmt.Errorf("normalization panicked: %v", r))
		}
	}()

	if len(views) == 0 {
		return n.fallback(ctx, views, errors.New("no views to normalize"))
	}

	brightness := make([]float64, len(views))
	for i, v := range views {
		b, err := Brightness(v.Image)
		if err != nil {
			return n.fallback(ctx, views, fmt.Errorf("%s view: %w", v.Role, err))
		}
		brightness[i] = b
	}

	// 外れ値のビューに引きずられないよう平均ではなく中央値を使う
	target := median(brightness)

	out := make([]domain.View, len(views))
	factors := make([]float64, len(views))
	for i, v := range views {
		f := 1.0
		if brightness[i] > 0 {
			f = domain.ClampCorrection(target / brightness[i])
		}
		factors[i] = f
		out[i] = v.WithImage(scale(v.Image, [3]float64{f, f, f}))
	}

	n.logger.DebugContext(ctx, "明るさを正規化しました", "target", target, "factors", factors)
	return NormalizationResult{Views: out, Factors: factors, Target: target}
}

func (n *Normalizer) fallback(ctx context.Context, views []domain.View, err error) NormalizationResult {
	n.logger.WarnContext(ctx, "明るさの正規化に失敗したため入力をそのまま使います", "error", err)
	factors := make([]float64, len(views))
	for i := range factors {
		factors[i] = 1
	}
	return NormalizationResult{Views: views, Factors: factors, Fallback: true, Err: err}
}
