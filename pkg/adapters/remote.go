package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

// HTTPClient は推論サービスとの通信に使う httpkit.ClientInterface の部分集合です。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	PostJSONAndFetchBytes(ctx context.Context, url string, data any) ([]byte, error)
	PostRawBodyAndFetchBytes(ctx context.Context, url string, body []byte, contentType string) ([]byte, error)
}

// remoteService はヘルスチェックで Ready を判定する推論サービスの共通部分です。
type remoteService struct {
	name    string
	baseURL string
	client  HTTPClient
	logger  *slog.Logger
	ready   atomic.Bool
}

func newRemoteService(name string, client HTTPClient, baseURL string, logger *slog.Logger) (*remoteService, error) {
	if client == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s baseURL is required", name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &remoteService{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}, nil
}

func (s *remoteService) url(path string) string {
	return s.baseURL + path
}

// Start は /health が応答するまでは Ready を返しません。
func (s *remoteService) Start(ctx context.Context) error {
	if _, err := s.client.FetchBytes(ctx, s.url("/health")); err != nil {
		return fmt.Errorf("%s health check: %w", s.name, err)
	}
	s.ready.Store(true)
	s.logger.InfoContext(ctx, "推論サービスに接続しました", "service", s.name, "url", s.baseURL)
	return nil
}

func (s *remoteService) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return nil
}

func (s *remoteService) Ready() bool {
	return s.ready.Load()
}

// HTTPRemover は PNG を POST して背景除去済みの PNG を受け取ります。
type HTTPRemover struct {
	*remoteService
}

// NewHTTPRemover は背景除去サービスのアダプターを作ります。
func NewHTTPRemover(client HTTPClient, baseURL string, logger *slog.Logger) (*HTTPRemover, error) {
	svc, err := newRemoteService("remover", client, baseURL, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPRemover{remoteService: svc}, nil
}

func (r *HTTPRemover) RemoveBackground(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	if !r.Ready() {
		return nil, domain.ErrNotReady
	}
	body, err := imgutil.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	resp, err := r.client.PostRawBodyAndFetchBytes(ctx, r.url("/remove_background"), body, "image/png")
	if err != nil {
		return nil, fmt.Errorf("%w: background removal: %w", domain.ErrInference, err)
	}
	out, err := imgutil.Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: background removal response: %w", domain.ErrInference, err)
	}
	return out, nil
}

// reconstructView は 1 ビュー分の送信形式です。
type reconstructView struct {
	Role      domain.Role `json:"role"`
	PNGBase64 string      `json:"png_base64"`
}

// reconstructPayload は再構成サービスへの JSON ボディです。
type reconstructPayload struct {
	Seed   int64                       `json:"seed"`
	Params domain.ReconstructionParams `json:"params"`
	Views  []reconstructView           `json:"views"`
}

// HTTPReconstructor は順序付きのビューを JSON で送り、PLY のバイト列を受け取ります。
type HTTPReconstructor struct {
	*remoteService
}

// NewHTTPReconstructor は再構成サービスのアダプターを作ります。
func NewHTTPReconstructor(client HTTPClient, baseURL string, logger *slog.Logger) (*HTTPReconstructor, error) {
	svc, err := newRemoteService("reconstructor", client, baseURL, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPReconstructor{remoteService: svc}, nil
}

func (r *HTTPReconstructor) Reconstruct(ctx context.Context, req generator.ReconstructionRequest) ([]byte, error) {
	if !r.Ready() {
		return nil, domain.ErrNotReady
	}
	payload := reconstructPayload{Seed: req.Seed, Params: req.Params}
	for _, v := range req.Views {
		data, err := imgutil.EncodePNG(v.Image)
		if err != nil {
			return nil, fmt.Errorf("encode %s view: %w", v.Role, err)
		}
		payload.Views = append(payload.Views, reconstructView{
			Role:      v.Role,
			PNGBase64: base64.StdEncoding.EncodeToString(data),
		})
	}

	ply, err := r.client.PostJSONAndFetchBytes(ctx, r.url("/reconstruct"), payload)
	if err != nil {
		return nil, fmt.Errorf("%w: reconstruction: %w", domain.ErrInference, err)
	}
	return ply, nil
}

// ReclaimMemory はサービス側のキャッシュ解放を依頼します。失敗しても次のリクエストには影響しません。
func (r *HTTPReconstructor) ReclaimMemory(ctx context.Context) error {
	if !r.Ready() {
		return nil
	}
	if _, err := r.client.PostJSONAndFetchBytes(ctx, r.url("/free_memory"), struct{}{}); err != nil {
		return fmt.Errorf("reconstructor free memory: %w", err)
	}
	return nil
}
