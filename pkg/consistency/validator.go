package consistency

import (
	"fmt"
	"image"
	"math"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// 8 ビットスケールでの許容値
const (
	DefaultMaxChannelDeviation = 50.0
	DefaultMaxContrastSpread   = 40.0
)

// Validator はビュー群が元画像と食い違っていないかを測ります。
// 結果は助言であり、生成を止めるためには使いません。
type Validator struct {
	MaxChannelDeviation float64
	MaxContrastSpread   float64
}

// NewValidator はデフォルトの閾値で Validator を作ります。
func NewValidator() *Validator {
	return &Validator{
		MaxChannelDeviation: DefaultMaxChannelDeviation,
		MaxContrastSpread:   DefaultMaxContrastSpread,
	}
}

// Validate はエラーを返さず、判定に使った測定値を常に含むレポートを返します。
func (v *Validator) Validate(views []domain.View, original *image.NRGBA) domain.ConsistencyReport {
	report := domain.ConsistencyReport{Passed: true}

	origMeans, err := ChannelMeans(original)
	if err != nil {
		return failed(report, fmt.Sprintf("original image: %v", err))
	}
	if len(views) == 0 {
		return failed(report, "no views to validate")
	}

	minContrast, maxContrast := math.Inf(1), math.Inf(-1)
	for _, view := range views {
		means, err := ChannelMeans(view.Image)
		if err != nil {
			return failed(report, fmt.Sprintf("%s view: %v", view.Role, err))
		}
		contrast, _ := ChannelStdDev(view.Image, 0)

		report.ViewChannelMeans = append(report.ViewChannelMeans, means)
		report.ViewContrast = append(report.ViewContrast, contrast)

		for c := 0; c < 3; c++ {
			report.MaxChannelDeviation[c] = math.Max(report.MaxChannelDeviation[c], math.Abs(means[c]-origMeans[c]))
		}
		minContrast = math.Min(minContrast, contrast)
		maxContrast = math.Max(maxContrast, contrast)
	}
	report.ContrastSpread = maxContrast - minContrast

	for c, name := range []string{"R", "G", "B"} {
		if report.MaxChannelDeviation[c] > v.MaxChannelDeviation {
			report.Passed = false
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("channel %s deviates %.1f from original (limit %.0f)", name, report.MaxChannelDeviation[c], v.MaxChannelDeviation))
		}
	}
	if report.ContrastSpread > v.MaxContrastSpread {
		report.Passed = false
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("contrast spread %.1f exceeds %.0f", report.ContrastSpread, v.MaxContrastSpread))
	}
	return report
}

func failed(report domain.ConsistencyReport, reason string) domain.ConsistencyReport {
	report.Passed = false
	report.Reasons = append(report.Reasons, reason)
	return report
}
