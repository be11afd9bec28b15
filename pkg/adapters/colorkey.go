package adapters

import (
	"context"
	"image"
	"sync/atomic"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// DefaultColorKeyTolerance は背景色とみなす RGB ユークリッド距離です。
const DefaultColorKeyTolerance = 32.0

// ColorKeyRemover は外部サービスなしで動く背景除去です。
// 外周の平均色に近い画素を外周から塗りつぶし、アルファを 0 にします。
// 開発環境とウォームアップ向けで、単色背景以外では精度は期待できません。
type ColorKeyRemover struct {
	Tolerance float64
	started   atomic.Bool
}

// NewColorKeyRemover は tolerance <= 0 の場合デフォルト値を使います。
func NewColorKeyRemover(tolerance float64) *ColorKeyRemover {
	if tolerance <= 0 {
		tolerance = DefaultColorKeyTolerance
	}
	return &ColorKeyRemover{Tolerance: tolerance}
}

func (r *ColorKeyRemover) Start(ctx context.Context) error {
	r.started.Store(true)
	return nil
}

func (r *ColorKeyRemover) Stop(ctx context.Context) error {
	r.started.Store(false)
	return nil
}

func (r *ColorKeyRemover) Ready() bool { return r.started.Load() }

// RemoveBackground は新しい画像を返し、img は書き換えません。
func (r *ColorKeyRemover) RemoveBackground(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	if !r.Ready() {
		return nil, domain.ErrNotReady
	}
	if err := (domain.View{Image: img}).Validate(); err != nil {
		return nil, err
	}
	out := domain.CloneImage(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	key := borderMean(out)
	limit := r.Tolerance * r.Tolerance

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if visited[i] {
			return
		}
		visited[i] = true
		if colorDist2(out.Pix[out.PixOffset(x, y):], key) <= limit {
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		out.Pix[out.PixOffset(x, y)+3] = 0
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return out, nil
}

// borderMean は外周画素の平均色です。out は原点基準であること。
func borderMean(img *image.NRGBA) [3]float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var sum [3]float64
	n := 0
	add := func(x, y int) {
		p := img.Pix[img.PixOffset(x, y):]
		for c := 0; c < 3; c++ {
			sum[c] += float64(p[c])
		}
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}
	for c := range sum {
		sum[c] /= float64(n)
	}
	return sum
}

func colorDist2(p []uint8, key [3]float64) float64 {
	var d float64
	for c := 0; c < 3; c++ {
		diff := float64(p[c]) - key[c]
		d += diff * diff
	}
	return d
}
