package imgutil

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
)

// CompressToJPEG は画像を JPEG 形式に圧縮します。
// 編集モデルへのアップロード前にペイロードを小さくするために使います。
func CompressToJPEG(img image.Image, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodePNG は画像を PNG にエンコードします。
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
