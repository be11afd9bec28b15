package domain

import "errors"

var (
	// ErrNotReady はコラボレーターが初期化されていないことを示します。
	ErrNotReady = errors.New("collaborator not ready")
	// ErrInvalidImage は入力画像がデコードできない、または空であることを示します。
	ErrInvalidImage = errors.New("invalid image")
	// ErrInference はモデル推論の失敗を示します。
	ErrInference = errors.New("inference failed")
)
