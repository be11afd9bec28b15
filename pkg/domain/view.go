package domain

import (
	"fmt"
	"image"
)

// Role は仮想カメラ上のビューの役割です。
type Role string

const (
	RolePrimary Role = "primary" // 正面（再構成で最も重みが大きい）
	RoleLeft    Role = "left"    // 左 3/4
	RoleRight   Role = "right"   // 右 3/4
	RoleBack    Role = "back"    // 背面
)

// Roles は再構成に渡すビューの固定順序です。順序そのものが重み付けを表します。
var Roles = [...]Role{RolePrimary, RoleLeft, RoleRight, RoleBack}

// ViewCount は再構成に参加するビューの枚数です。
const ViewCount = len(Roles)

// View は役割付きの画像です。
// 各処理ステージは新しい View を返し、既に渡した Image を書き換えてはいけません。
type View struct {
	Role  Role
	Image *image.NRGBA
}

// WithImage は Role を保ったまま Image を差し替えた新しい View を返します。
func (v View) WithImage(img *image.NRGBA) View {
	return View{Role: v.Role, Image: img}
}

// Validate は画像が処理可能な状態か確認します。
func (v View) Validate() error {
	if v.Image == nil {
		return fmt.Errorf("%w: %s view has no image", ErrInvalidImage, v.Role)
	}
	if v.Image.Rect.Empty() {
		return fmt.Errorf("%w: %s view is empty", ErrInvalidImage, v.Role)
	}
	return nil
}

// CloneImage は img の独立したコピーを原点基準で返します。
func CloneImage(img *image.NRGBA) *image.NRGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rowLen], img.Pix[src:src+rowLen])
	}
	return out
}
