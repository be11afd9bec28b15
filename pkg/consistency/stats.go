// Package consistency は独立に生成されたビュー同士を 1 つの物体として再構成できるよう
// 色と明るさを揃え、その整合性を測る数値処理をまとめたものです。
package consistency

import (
	"fmt"
	"image"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

// channelValues は 1 チャンネル分の画素値を取り出します。
func channelValues(img *image.NRGBA, c int) []float64 {
	b := img.Rect
	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			values = append(values, float64(img.Pix[row+x*4+c]))
		}
	}
	return values
}

// ChannelMeans は R, G, B それぞれの平均画素値を返します。
func ChannelMeans(img *image.NRGBA) ([3]float64, error) {
	var means [3]float64
	if err := checkImage(img); err != nil {
		return means, err
	}
	for c := 0; c < 3; c++ {
		means[c] = stat.Mean(channelValues(img, c), nil)
	}
	return means, nil
}

// Brightness はチャンネル平均の平均です。
func Brightness(img *image.NRGBA) (float64, error) {
	means, err := ChannelMeans(img)
	if err != nil {
		return 0, err
	}
	return (means[0] + means[1] + means[2]) / 3, nil
}

// ChannelStdDev は 1 チャンネルの母標準偏差（コントラストの代理指標）です。
func ChannelStdDev(img *image.NRGBA, c int) (float64, error) {
	if err := checkImage(img); err != nil {
		return 0, err
	}
	values := channelValues(img, c)
	n := float64(len(values))
	if n < 2 {
		return 0, nil
	}
	_, variance := stat.MeanVariance(values, nil)
	return math.Sqrt(variance * (n - 1) / n), nil
}

// median は偶数個なら中央 2 つの平均を返します。
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func checkImage(img *image.NRGBA) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", domain.ErrInvalidImage)
	}
	if img.Rect.Empty() {
		return fmt.Errorf("%w: empty image", domain.ErrInvalidImage)
	}
	if len(img.Pix) < img.PixOffset(img.Rect.Max.X-1, img.Rect.Max.Y-1)+4 {
		return fmt.Errorf("%w: pixel buffer too short", domain.ErrInvalidImage)
	}
	return nil
}

// scale は RGB に factors を掛けて四捨五入とクリップを行った新しい画像を返します。
func scale(img *image.NRGBA, factors [3]float64) *image.NRGBA {
	b := img.Rect
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := img.PixOffset(b.Min.X, b.Min.Y+y)
		di := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			for c := 0; c < 3; c++ {
				out.Pix[di+c] = imgutil.Clip8(float64(img.Pix[si+c]) * factors[c])
			}
			out.Pix[di+3] = img.Pix[si+3]
			si += 4
			di += 4
		}
	}
	return out
}
