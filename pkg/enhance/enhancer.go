// Package enhance は入力画像に対するモデル推論なしの前処理フィルタを提供します。
package enhance

import (
	"context"
	"image"
	"log/slog"
	"slices"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

// 目立つアーティファクトが出ない控えめな固定値。リクエストからは変更できません。
const (
	SharpnessFactor  = 1.15
	ContrastFactor   = 1.1
	SaturationFactor = 1.05
)

// Enhancer はノイズ除去、シャープ化、コントラスト、彩度の順で画像を整えます。
type Enhancer struct {
	logger *slog.Logger
}

// New は Enhancer を作ります。
func New(logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{logger: logger}
}

// Enhance は img を変更せず、処理済みの新しい画像を返します。
func (e *Enhancer) Enhance(ctx context.Context, img image.Image) *image.NRGBA {
	out := imgutil.ToRGB(img)
	out = Median3(out)
	out = Sharpen(out, SharpnessFactor)
	out = Contrast(out, ContrastFactor)
	out = Saturate(out, SaturationFactor)

	e.logger.InfoContext(ctx, "入力画像を補正しました", "width", out.Rect.Dx(), "height", out.Rect.Dy())
	return out
}

// Median3 は 3x3 近傍のチャンネル別メディアンを取ります。端は画素を複製して扱います。
func Median3(src *image.NRGBA) *image.NRGBA {
	src = compact(src)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	var window [9]uint8

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						window[n] = src.Pix[src.PixOffset(clampInt(x+dx, w), clampInt(y+dy, h))+c]
						n++
					}
				}
				slices.Sort(window[:])
				out.Pix[o+c] = window[4]
			}
			out.Pix[o+3] = src.Pix[src.PixOffset(x, y)+3]
		}
	}
	return out
}

// Sharpen は平滑化画像から factor 倍だけ離すことで輪郭を強調します。
// 平滑化カーネルは [1 1 1; 1 5 1; 1 1 1]/13 で、外周の画素はそのまま残します。
func Sharpen(src *image.NRGBA, factor float64) *image.NRGBA {
	src = compact(src)
	return blend(smooth3(src), src, factor)
}

// Contrast は平均輝度の単色画像から factor 倍だけ離します。
func Contrast(src *image.NRGBA, factor float64) *image.NRGBA {
	src = compact(src)
	var sum float64
	n := 0
	for i := 0; i < len(src.Pix); i += 4 {
		sum += imgutil.Luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
		n++
	}
	mean := uint8(0)
	if n > 0 {
		mean = imgutil.Clip8(sum / float64(n))
	}

	gray := image.NewNRGBA(src.Rect)
	for i := 0; i < len(gray.Pix); i += 4 {
		gray.Pix[i], gray.Pix[i+1], gray.Pix[i+2] = mean, mean, mean
		gray.Pix[i+3] = src.Pix[i+3]
	}
	return blend(gray, src, factor)
}

// Saturate は各画素のグレースケール値から factor 倍だけ離します。
func Saturate(src *image.NRGBA, factor float64) *image.NRGBA {
	src = compact(src)
	gray := image.NewNRGBA(src.Rect)
	for i := 0; i < len(src.Pix); i += 4 {
		l := imgutil.Clip8(imgutil.Luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2]))
		gray.Pix[i], gray.Pix[i+1], gray.Pix[i+2] = l, l, l
		gray.Pix[i+3] = src.Pix[i+3]
	}
	return blend(gray, src, factor)
}

// blend は degenerate + factor*(src-degenerate) を返します。アルファは src のまま。
func blend(degenerate, src *image.NRGBA, factor float64) *image.NRGBA {
	out := image.NewNRGBA(src.Rect)
	for i := 0; i < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(degenerate.Pix[i+c])
			out.Pix[i+c] = imgutil.Clip8(d + factor*(float64(src.Pix[i+c])-d))
		}
		out.Pix[i+3] = src.Pix[i+3]
	}
	return out
}

func smooth3(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := domain.CloneImage(src)
	if w < 3 || h < 3 {
		return out
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			o := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				var acc float64
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						weight := 1.0
						if dx == 0 && dy == 0 {
							weight = 5
						}
						acc += weight * float64(src.Pix[src.PixOffset(x+dx, y+dy)+c])
					}
				}
				out.Pix[o+c] = imgutil.Clip8(acc / 13)
			}
		}
	}
	return out
}

// compact は原点基準かつ行間に隙間のない画像を返します。
func compact(src *image.NRGBA) *image.NRGBA {
	if src.Rect.Min == (image.Point{}) && src.Stride == 4*src.Rect.Dx() {
		return src
	}
	return domain.CloneImage(src)
}

func clampInt(v, n int) int {
	switch {
	case v < 0:
		return 0
	case v >= n:
		return n - 1
	}
	return v
}
