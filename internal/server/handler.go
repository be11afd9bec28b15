package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

const (
	headerRequestID      = "X-Request-ID"
	headerSeed           = "X-Seed"
	headerGenerationTime = "X-Generation-Time"

	formImageFile = "prompt_image_file"
	formSeed      = "seed"
	formParams    = "trellis_params"
)

// Base64Request は /generate_from_base64 のボディです。
type Base64Request struct {
	PromptImage string                      `json:"prompt_image" binding:"required"`
	Seed        *int64                      `json:"seed"`
	Params      domain.ReconstructionParams `json:"trellis_params"`
}

// GenerateResponse は JSON 形式の生成結果です。
type GenerateResponse struct {
	GenerationTime               float64                  `json:"generation_time"`
	Seed                         int64                    `json:"seed"`
	PLYFileBase64                string                   `json:"ply_file_base64"`
	ImageEditedFileBase64        string                   `json:"image_edited_file_base64,omitempty"`
	ImageWithoutBackgroundBase64 string                   `json:"image_without_background_file_base64,omitempty"`
	Consistency                  domain.ConsistencyReport `json:"consistency"`
}

// generateFromUpload は multipart の画像を受け取り、既定では PLY をそのまま返します。
// ?format=json の場合は GenerateResponse を返します。
func (s *Server) generateFromUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	file, err := c.FormFile(formImageFile)
	if err != nil {
		s.badRequest(c, fmt.Errorf("%s is required: %w", formImageFile, err))
		return
	}
	f, err := file.Open()
	if err != nil {
		s.badRequest(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	req := domain.GenerationRequest{Image: data, Seed: -1}
	if v := c.PostForm(formSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.badRequest(c, fmt.Errorf("seed: %w", err))
			return
		}
		req.Seed = seed
	}
	if v := c.PostForm(formParams); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Params); err != nil {
			s.badRequest(c, fmt.Errorf("%s: %w", formParams, err))
			return
		}
	}

	res, err := s.gen.Generate(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if c.Query("format") == "json" {
		s.writeJSON(c, res)
		return
	}
	c.Header(headerSeed, strconv.FormatInt(res.Seed, 10))
	c.Header(headerGenerationTime, strconv.FormatFloat(res.Elapsed.Seconds(), 'f', 3, 64))
	c.Header("Content-Disposition", `attachment; filename="model.ply"`)
	c.Data(http.StatusOK, "application/octet-stream", res.Artifact)
}

func (s *Server) generateFromBase64(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	var body Base64Request
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.PromptImage)
	if err != nil {
		s.badRequest(c, fmt.Errorf("%w: prompt_image is not base64: %v", domain.ErrInvalidImage, err))
		return
	}

	req := domain.GenerationRequest{Image: data, Seed: -1, Params: body.Params}
	if body.Seed != nil {
		req.Seed = *body.Seed
	}

	res, err := s.gen.Generate(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.writeJSON(c, res)
}

func (s *Server) writeJSON(c *gin.Context, res *domain.GenerationResult) {
	resp := GenerateResponse{
		GenerationTime: res.Elapsed.Seconds(),
		Seed:           res.Seed,
		PLYFileBase64:  base64.StdEncoding.EncodeToString(res.Artifact),
		Consistency:    res.Report,
	}
	var err error
	if resp.ImageEditedFileBase64, err = pngBase64(res.PrimaryEdited); err != nil {
		s.writeError(c, err)
		return
	}
	if resp.ImageWithoutBackgroundBase64, err = pngBase64(res.PrimaryNoBackground); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.WarnContext(c.Request.Context(), "不正なリクエスト", "error", err, "request_id", c.GetString(headerRequestID))
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeError はドメインエラーを HTTP ステータスに変換します。
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if stage, ok := generator.FailedStage(err); ok {
		body["stage"] = stage
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInference):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// pngBase64 は nil の場合に空文字を返します。
func pngBase64(img *image.NRGBA) (string, error) {
	if img == nil {
		return "", nil
	}
	data, err := imgutil.EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func errRequired(name string) error {
	return fmt.Errorf("%s is required", name)
}
