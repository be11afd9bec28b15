package imgutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// Decode は PNG, JPEG, GIF, WebP, BMP, TIFF のバイト列を NRGBA に変換します。
func Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", domain.ErrInvalidImage)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA は任意の画像を原点基準の NRGBA にコピーします。
// NRGBA 入力は乗算済みアルファを経由せず画素をそのまま複製します。
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return domain.CloneImage(n)
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// ToRGB はアルファを捨てて不透明な 3 チャンネル画像にします。
// 合成は行わず、RGB 値はそのまま保持します。
func ToRGB(img image.Image) *image.NRGBA {
	out := ToNRGBA(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// Uniform は単色の画像を作ります。
func Uniform(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// Clip8 は浮動小数点の画素値を四捨五入して [0, 255] に収めます。
func Clip8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// Luma は ITU-R 601-2 の係数でグレースケール値を返します。
func Luma(r, g, b uint8) float64 {
	return float64(r)*299/1000 + float64(g)*587/1000 + float64(b)*114/1000
}
