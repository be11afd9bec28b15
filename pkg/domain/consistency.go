package domain

// MinCorrection と MaxCorrection は色補正・明るさ補正係数の許容範囲です。
const (
	MinCorrection = 0.8
	MaxCorrection = 1.2
)

// ColorCorrection はチャンネルごとの乗数 (R, G, B) です。
type ColorCorrection [3]float64

// IdentityCorrection は補正なしを表します。
var IdentityCorrection = ColorCorrection{1, 1, 1}

// ClampCorrection は係数を [MinCorrection, MaxCorrection] に収めます。
func ClampCorrection(f float64) float64 {
	switch {
	case f < MinCorrection:
		return MinCorrection
	case f > MaxCorrection:
		return MaxCorrection
	}
	return f
}

// ConsistencyReport はビュー間の整合性チェックの結果です。
// 生成を止めることはなく、観測用のシグナルとしてのみ扱います。
type ConsistencyReport struct {
	Passed              bool         `json:"passed" yaml:"passed"`
	MaxChannelDeviation [3]float64   `json:"max_channel_deviation" yaml:"max_channel_deviation"`
	ContrastSpread      float64      `json:"contrast_spread" yaml:"contrast_spread"`
	ViewChannelMeans    [][3]float64 `json:"view_channel_means,omitempty" yaml:"view_channel_means,omitempty"`
	ViewContrast        []float64    `json:"view_contrast,omitempty" yaml:"view_contrast,omitempty"`
	Reasons             []string     `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}
