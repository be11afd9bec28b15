package adapters

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

// DefaultCompressionQuality はアップロード前の JPEG 圧縮品質です。
const DefaultCompressionQuality = 75

// ImageModel は画像を返す Gemini 互換の生成モデルです。
// gemini.GenerativeModel と GenAIModel のどちらも満たします。
type ImageModel interface {
	GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

// GeminiEditorOptions は GeminiEditor の任意設定です。
type GeminiEditorOptions struct {
	Compress bool // 送信前に JPEG へ圧縮する
	Quality  int
	Logger   *slog.Logger
}

// GeminiEditor は Gemini の画像編集で generator.Editor を実装します。
type GeminiEditor struct {
	model     ImageModel
	modelName string
	opts      GeminiEditorOptions
	logger    *slog.Logger
	ready     atomic.Bool
}

// NewGeminiEditor は依存関係を注入して GeminiEditor を初期化します。
func NewGeminiEditor(model ImageModel, modelName string, opts GeminiEditorOptions) (*GeminiEditor, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("modelName is required")
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultCompressionQuality
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiEditor{model: model, modelName: modelName, opts: opts, logger: logger}, nil
}

// Start はリモートモデルのためロードするものがなく、受付を開始するだけです。
func (e *GeminiEditor) Start(ctx context.Context) error {
	e.ready.Store(true)
	return nil
}

func (e *GeminiEditor) Stop(ctx context.Context) error {
	e.ready.Store(false)
	return nil
}

func (e *GeminiEditor) Ready() bool {
	return e.ready.Load()
}

// Edit は指示文と画像を 1 回のリクエストで送り、最初の画像パーツを返します。
func (e *GeminiEditor) Edit(ctx context.Context, img *image.NRGBA, seed int64, instruction string) (*image.NRGBA, error) {
	if !e.Ready() {
		return nil, domain.ErrNotReady
	}
	imgPart, err := e.toPart(img)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{{Text: instruction}, imgPart}
	opts := gemini.GenerateOptions{Seed: &seed}

	resp, err := e.model.GenerateWithParts(ctx, e.modelName, parts, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: Gemini画像編集エラー: %w", domain.ErrInference, err)
	}

	data, err := parseImageResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInference, err)
	}
	out, err := imgutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: edited image: %w", domain.ErrInference, err)
	}
	e.logger.DebugContext(ctx, "画像を編集しました", "model", e.modelName, "seed", seed, "size", out.Rect.Size())
	return out, nil
}

// toPart は画像を InlineData パーツに変換します。Compress が有効なら JPEG で送ります。
func (e *GeminiEditor) toPart(img *image.NRGBA) (*genai.Part, error) {
	var (
		data []byte
		err  error
	)
	if e.opts.Compress {
		data, err = imgutil.CompressToJPEG(img, e.opts.Quality)
	} else {
		data, err = imgutil.EncodePNG(img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode source image: %w", err)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("encoded source is not an image: %s", mimeType)
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, nil
}

// parseImageResponse は最初の候補から画像データを取り出します。
func parseImageResponse(resp *gemini.Response) ([]byte, error) {
	if resp == nil || resp.RawResponse == nil || len(resp.RawResponse.Candidates) == 0 {
		return nil, fmt.Errorf("Geminiからの有効な応答がありませんでした")
	}
	candidate := resp.RawResponse.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}

	// 安全フィルター等によるブロックの確認
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return nil, fmt.Errorf("画像生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return nil, fmt.Errorf("画像データが見つかりませんでした")
}
