package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

func newTestServer(t *testing.T, gen *mockGenerator, opts Options) http.Handler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(gen, opts)
	require.NoError(t, err)
	return s.Handler()
}

func uploadRequest(t *testing.T, url string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if image != nil {
		part, err := w.CreateFormFile(formImageFile, "input.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorContains(t, err, "generator is required")
}

func TestServer_Health(t *testing.T) {
	gen := &mockGenerator{}
	h := newTestServer(t, gen, Options{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	gen.ready = true
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","ready":true}`, rec.Body.String())
}

func TestServer_GenerateFromUpload(t *testing.T) {
	png := []byte("raw-image-bytes")

	t.Run("PLY をそのまま返し、シードをヘッダーに載せる", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		h := newTestServer(t, gen, Options{})

		rec := serve(h, uploadRequest(t, "/generate", png, map[string]string{
			formSeed:   "42",
			formParams: `{"slat_steps": 30}`,
		}))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "ply-bytes", rec.Body.String())
		assert.Equal(t, "42", rec.Header().Get(headerSeed))
		assert.Equal(t, "2.000", rec.Header().Get(headerGenerationTime))
		assert.NotEmpty(t, rec.Header().Get(headerRequestID))

		require.Len(t, gen.requests, 1)
		assert.Equal(t, png, gen.requests[0].Image)
		assert.Equal(t, int64(42), gen.requests[0].Seed)
		require.NotNil(t, gen.requests[0].Params.SLATSteps)
		assert.Equal(t, 30, *gen.requests[0].Params.SLATSteps)
	})

	t.Run("シード省略時は自動選択 (-1)", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		h := newTestServer(t, gen, Options{})

		rec := serve(h, uploadRequest(t, "/generate", png, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(-1), gen.requests[0].Seed)
	})

	t.Run("format=json では base64 の PLY を返す", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		h := newTestServer(t, gen, Options{})

		rec := serve(h, uploadRequest(t, "/generate?format=json", png, map[string]string{formSeed: "7"}))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp GenerateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ply-bytes")), resp.PLYFileBase64)
		assert.Equal(t, int64(7), resp.Seed)
		assert.Empty(t, resp.ImageEditedFileBase64)
	})

	t.Run("ファイルがなければ 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		rec := serve(newTestServer(t, gen, Options{}), uploadRequest(t, "/generate", nil, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, gen.requests)
	})

	t.Run("数値でないシードは 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		rec := serve(newTestServer(t, gen, Options{}), uploadRequest(t, "/generate", png, map[string]string{formSeed: "abc"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("壊れたパラメータ JSON は 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		rec := serve(newTestServer(t, gen, Options{}), uploadRequest(t, "/generate", png, map[string]string{formParams: "{"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("上限を超えるアップロードは 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		h := newTestServer(t, gen, Options{MaxUploadBytes: 64})
		rec := serve(h, uploadRequest(t, "/generate", bytes.Repeat([]byte("x"), 1024), nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, gen.requests)
	})
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		stage  string
	}{
		{"不正な画像は 400", &generator.StageError{Stage: generator.StageDecode, Err: domain.ErrInvalidImage}, http.StatusBadRequest, "decode"},
		{"準備中は 503", domain.ErrNotReady, http.StatusServiceUnavailable, ""},
		{"推論失敗は 502", &generator.StageError{Stage: generator.StageEdit, Role: domain.RoleLeft, Err: fmt.Errorf("%w: oom", domain.ErrInference)}, http.StatusBadGateway, "edit"},
		{"その他は 500", errors.New("unexpected"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{ready: true, generateFunc: func(domain.GenerationRequest) (*domain.GenerationResult, error) {
				return nil, tt.err
			}}
			rec := serve(newTestServer(t, gen, Options{}), uploadRequest(t, "/generate", []byte("img"), nil))

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tt.stage != "" {
				assert.Equal(t, tt.stage, body["stage"])
			} else {
				assert.NotContains(t, body, "stage")
			}
		})
	}
}

func TestServer_GenerateFromBase64(t *testing.T) {
	edited := imgutil.Uniform(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	t.Run("画像付きの JSON を返す", func(t *testing.T) {
		gen := &mockGenerator{ready: true, generateFunc: func(req domain.GenerationRequest) (*domain.GenerationResult, error) {
			return &domain.GenerationResult{
				Artifact:            []byte("ply"),
				Seed:                1234,
				PrimaryEdited:       edited,
				PrimaryNoBackground: edited,
				Report:              domain.ConsistencyReport{Passed: true},
			}, nil
		}}
		h := newTestServer(t, gen, Options{})
		payload := fmt.Sprintf(`{"prompt_image": %q, "trellis_params": {"num_oversamples": 2}}`,
			base64.StdEncoding.EncodeToString([]byte("img")))

		req := httptest.NewRequest(http.MethodPost, "/generate_from_base64", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(h, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp GenerateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1234), resp.Seed)
		assert.True(t, resp.Consistency.Passed)

		pngData, err := base64.StdEncoding.DecodeString(resp.ImageEditedFileBase64)
		require.NoError(t, err)
		decoded, err := imgutil.Decode(pngData)
		require.NoError(t, err)
		assert.Equal(t, edited.Pix, decoded.Pix)
		assert.NotEmpty(t, resp.ImageWithoutBackgroundBase64)

		require.Len(t, gen.requests, 1)
		assert.Equal(t, []byte("img"), gen.requests[0].Image)
		assert.Equal(t, int64(-1), gen.requests[0].Seed)
		assert.Equal(t, 2, *gen.requests[0].Params.NumOversamples)
	})

	t.Run("prompt_image がなければ 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		req := httptest.NewRequest(http.MethodPost, "/generate_from_base64", strings.NewReader(`{"seed": 1}`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, serve(newTestServer(t, gen, Options{}), req).Code)
	})

	t.Run("base64 でなければ 400", func(t *testing.T) {
		gen := &mockGenerator{ready: true}
		req := httptest.NewRequest(http.MethodPost, "/generate_from_base64", strings.NewReader(`{"prompt_image": "%%%"}`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, serve(newTestServer(t, gen, Options{}), req).Code)
		assert.Empty(t, gen.requests)
	})
}

func TestServer_Middleware(t *testing.T) {
	t.Run("クライアントの X-Request-ID を引き継ぐ", func(t *testing.T) {
		h := newTestServer(t, &mockGenerator{ready: true}, Options{})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(headerRequestID, "req-123")

		rec := serve(h, req)
		assert.Equal(t, "req-123", rec.Header().Get(headerRequestID))
	})

	t.Run("HTTP メトリクスはルートのパターンで記録される", func(t *testing.T) {
		recorder := &mockHTTPRecorder{}
		h := newTestServer(t, &mockGenerator{ready: true}, Options{Recorder: recorder})

		serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		serve(h, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))

		require.Len(t, recorder.calls, 2)
		assert.Equal(t, httpCall{method: "GET", path: "/health", status: 200}, recorder.calls[0])
		assert.Equal(t, httpCall{method: "GET", path: "unmatched", status: 404}, recorder.calls[1])
	})

	t.Run("/metrics は設定時だけ公開される", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
		reg.MustRegister(counter)
		counter.Inc()

		h := newTestServer(t, &mockGenerator{}, Options{MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "test_total 1")

		rec = serve(newTestServer(t, &mockGenerator{}, Options{}), httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
