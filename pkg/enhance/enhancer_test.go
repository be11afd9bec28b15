package enhance

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/shouni/multiview-image-kit/pkg/imgutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drawImage(rt *rapid.T) *image.NRGBA {
	w := rapid.IntRange(1, 24).Draw(rt, "w")
	h := rapid.IntRange(1, 24).Draw(rt, "h")
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	pix := rapid.SliceOfN(rapid.Byte(), len(img.Pix), len(img.Pix)).Draw(rt, "pix")
	copy(img.Pix, pix)
	return img
}

func TestEnhance_PreservesDimensions(t *testing.T) {
	e := New(nil)
	rapid.Check(t, func(rt *rapid.T) {
		src := drawImage(rt)
		before := append([]uint8(nil), src.Pix...)

		out := e.Enhance(context.Background(), src)

		if out.Rect.Dx() != src.Rect.Dx() || out.Rect.Dy() != src.Rect.Dy() {
			rt.Fatalf("size changed: %v -> %v", src.Rect, out.Rect)
		}
		for i := 3; i < len(out.Pix); i += 4 {
			if out.Pix[i] != 0xff {
				rt.Fatalf("output must be opaque, alpha=%d", out.Pix[i])
			}
		}
		if string(before) != string(src.Pix) {
			rt.Fatal("input image was modified")
		}
	})
}

func TestEnhance_UniformImageIsUnchanged(t *testing.T) {
	gray := imgutil.Uniform(64, 64, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	out := New(nil).Enhance(context.Background(), gray)
	assert.Equal(t, gray.Pix, out.Pix)
}

func TestMedian3_RemovesImpulseNoise(t *testing.T) {
	img := imgutil.Uniform(5, 5, color.NRGBA{R: 50, G: 60, B: 70, A: 255})
	img.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out := Median3(img)
	assert.Equal(t, color.NRGBA{R: 50, G: 60, B: 70, A: 255}, out.NRGBAAt(2, 2))
}

func TestContrast_StretchesAroundMean(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	out := Contrast(img, 2)
	// 平均 150 から 2 倍に離れる
	assert.Equal(t, uint8(50), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(250), out.NRGBAAt(1, 0).R)
}

func TestSaturate_GrayStaysGray(t *testing.T) {
	img := imgutil.Uniform(3, 3, color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	out := Saturate(img, 5)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestSharpen_ClipsToValidRange(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = 0
	}
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out := Sharpen(img, 10)
	require.Equal(t, img.Rect, out.Rect)
	assert.Equal(t, uint8(255), out.NRGBAAt(1, 1).R)
	// 外周は平滑化されないので元の値のまま
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
}

func TestCompact_SubImage(t *testing.T) {
	base := imgutil.Uniform(6, 6, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	sub := base.SubImage(image.Rect(2, 2, 5, 5)).(*image.NRGBA)

	out := Saturate(sub, 1)
	assert.Equal(t, 3, out.Rect.Dx())
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.NRGBAAt(1, 1))
}
