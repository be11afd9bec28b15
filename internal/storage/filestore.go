// Package storage は 1 リクエスト分の生成物をディレクトリ単位で保存します。
package storage

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/imgutil"
)

var _ generator.ArtifactSink = (*FileStore)(nil)

// ファイル名
const (
	SourceFile   = "source.png"
	ArtifactFile = "model.ply"
	ManifestFile = "manifest.yaml"
)

// Manifest は保存ディレクトリに書き出すメタデータです。
type Manifest struct {
	ID             string                      `yaml:"id"`
	CreatedAt      time.Time                   `yaml:"created_at"`
	Seed           int64                       `yaml:"seed"`
	ElapsedSeconds float64                     `yaml:"elapsed_seconds"`
	Params         domain.ReconstructionParams `yaml:"params"`
	Report         domain.ConsistencyReport    `yaml:"report"`
	Files          []string                    `yaml:"files"`
}

// FileStore は root 以下に生成物を保存する generator.ArtifactSink です。
type FileStore struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewFileStore は root を作成して FileStore を返します。
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリを作成できません: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		root:   root,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// Save は generator.ArtifactSink を満たします。
func (s *FileStore) Save(ctx context.Context, a generator.Artifacts) error {
	_, err := s.SaveDir(ctx, a)
	return err
}

// SaveDir は生成物を新しいディレクトリに並行して書き出し、そのパスを返します。
func (s *FileStore) SaveDir(ctx context.Context, a generator.Artifacts) (string, error) {
	id := s.newID()
	created := s.now()
	dir := filepath.Join(s.root, created.Format("20060102_150405")+"_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("保存ディレクトリを作成できません: %w", err)
	}

	files := map[string]func() ([]byte, error){}
	if a.Source != nil {
		files[SourceFile] = pngOf(a.Source)
	}
	for _, v := range a.Edited {
		files[string(v.Role)+"_edited.png"] = pngOf(v.Image)
	}
	for _, v := range a.NoBackground {
		files[string(v.Role)+"_without_background.png"] = pngOf(v.Image)
	}
	if len(a.Artifact) > 0 {
		artifact := a.Artifact
		files[ArtifactFile] = func() ([]byte, error) { return artifact, nil }
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for name, encode := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := encode()
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return os.WriteFile(filepath.Join(dir, name), data, 0o644)
		})
	}
	if err := eg.Wait(); err != nil {
		return dir, fmt.Errorf("生成物の保存に失敗しました: %w", err)
	}

	manifest := Manifest{
		ID:             id,
		CreatedAt:      created,
		Seed:           a.Seed,
		ElapsedSeconds: a.Elapsed.Seconds(),
		Params:         a.Params,
		Report:         a.Report,
	}
	for name := range files {
		manifest.Files = append(manifest.Files, name)
	}
	slices.Sort(manifest.Files)

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return dir, fmt.Errorf("manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return dir, fmt.Errorf("manifest: %w", err)
	}

	s.logger.InfoContext(ctx, "生成物を保存しました", "dir", dir, "files", len(files))
	return dir, nil
}

// ReadManifest は保存済みディレクトリのマニフェストを読み込みます。
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

func pngOf(img *image.NRGBA) func() ([]byte, error) {
	return func() ([]byte, error) { return imgutil.EncodePNG(img) }
}
