// Package config はサービス全体の設定を YAML ファイルと MULTIVIEW_ 環境変数から読み込みます。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/seed"
)

// EnvPrefix は環境変数の接頭辞です。pipeline.primary_mode は MULTIVIEW_PIPELINE_PRIMARY_MODE になります。
const EnvPrefix = "MULTIVIEW"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Editor        EditorConfig        `mapstructure:"editor"`
	Remover       RemoverConfig       `mapstructure:"remover"`
	Reconstructor ReconstructorConfig `mapstructure:"reconstructor"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	PrimaryMode        string `mapstructure:"primary_mode"`
	SendGeneratedFiles bool   `mapstructure:"send_generated_files"`
	SaveGeneratedFiles bool   `mapstructure:"save_generated_files"`
	OutputDir          string `mapstructure:"output_dir"`
	WarmUp             bool   `mapstructure:"warm_up"`
	SeedLow            int64  `mapstructure:"seed_low"`
	SeedHigh           int64  `mapstructure:"seed_high"`
}

type EditorConfig struct {
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	Compress bool   `mapstructure:"compress"`
	Quality  int    `mapstructure:"quality"`
}

type RemoverConfig struct {
	Backend   string  `mapstructure:"backend"` // http | colorkey
	URL       string  `mapstructure:"url"`
	Tolerance float64 `mapstructure:"tolerance"`
}

type ReconstructorConfig struct {
	URL      string           `mapstructure:"url"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	Defaults ReconstructParam `mapstructure:"defaults"`
}

// ReconstructParam は再構成パラメータのデフォルト値です。
type ReconstructParam struct {
	SparseStructureSteps       int     `mapstructure:"sparse_structure_steps"`
	SparseStructureCFGStrength float64 `mapstructure:"sparse_structure_cfg_strength"`
	SLATSteps                  int     `mapstructure:"slat_steps"`
	SLATCFGStrength            float64 `mapstructure:"slat_cfg_strength"`
	NumOversamples             int     `mapstructure:"num_oversamples"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// 背景除去のバックエンド
const (
	RemoverHTTP     = "http"
	RemoverColorKey = "colorkey"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":10006")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("pipeline.primary_mode", string(generator.PrimaryEdit))
	v.SetDefault("pipeline.send_generated_files", false)
	v.SetDefault("pipeline.save_generated_files", false)
	v.SetDefault("pipeline.output_dir", "generated")
	v.SetDefault("pipeline.warm_up", true)
	v.SetDefault("pipeline.seed_low", seed.DefaultLow)
	v.SetDefault("pipeline.seed_high", seed.DefaultHigh)

	v.SetDefault("editor.model", "gemini-2.5-flash-image")
	v.SetDefault("editor.api_key", "")
	v.SetDefault("editor.compress", true)
	v.SetDefault("editor.quality", 75)

	v.SetDefault("remover.backend", RemoverHTTP)
	v.SetDefault("remover.url", "http://localhost:10007")
	v.SetDefault("remover.tolerance", 32.0)

	v.SetDefault("reconstructor.url", "http://localhost:10008")
	v.SetDefault("reconstructor.timeout", 5*time.Minute)
	v.SetDefault("reconstructor.defaults.sparse_structure_steps", 12)
	v.SetDefault("reconstructor.defaults.sparse_structure_cfg_strength", 7.5)
	v.SetDefault("reconstructor.defaults.slat_steps", 12)
	v.SetDefault("reconstructor.defaults.slat_cfg_strength", 3.0)
	v.SetDefault("reconstructor.defaults.num_oversamples", 1)

	v.SetDefault("metrics.enabled", true)
}

// Load は path の YAML を読み込みます。path が空の場合はデフォルト値と環境変数だけを使います。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗しました: %w", err)
	}
	// GEMINI_API_KEY は go-gemini-client と共通の変数名
	if cfg.Editor.APIKey == "" {
		cfg.Editor.APIKey = lookupEnv("GEMINI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は起動できない組み合わせを検出します。
func (c *Config) Validate() error {
	var errs []error
	if _, err := generator.ParsePrimaryMode(c.Pipeline.PrimaryMode); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.primary_mode: %w", err))
	}
	if _, err := seed.NewResolver(c.Pipeline.SeedLow, c.Pipeline.SeedHigh); err != nil {
		errs = append(errs, fmt.Errorf("pipeline seed range: %w", err))
	}
	if c.Pipeline.SaveGeneratedFiles && c.Pipeline.OutputDir == "" {
		errs = append(errs, errors.New("pipeline.output_dir is required when save_generated_files is enabled"))
	}
	if c.Editor.Model == "" {
		errs = append(errs, errors.New("editor.model is required"))
	}
	if c.Editor.Quality < 1 || c.Editor.Quality > 100 {
		errs = append(errs, fmt.Errorf("editor.quality must be within 1..100, got %d", c.Editor.Quality))
	}
	switch c.Remover.Backend {
	case RemoverHTTP:
		if c.Remover.URL == "" {
			errs = append(errs, errors.New("remover.url is required for the http backend"))
		}
	case RemoverColorKey:
	default:
		errs = append(errs, fmt.Errorf("remover.backend: unknown backend %q", c.Remover.Backend))
	}
	if c.Reconstructor.URL == "" {
		errs = append(errs, errors.New("reconstructor.url is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PipelineOptions は generator.Config に変換します。
func (c *Config) PipelineOptions() generator.Config {
	mode, _ := generator.ParsePrimaryMode(c.Pipeline.PrimaryMode)
	return generator.Config{
		PrimaryMode:   mode,
		ReturnImages:  c.Pipeline.SendGeneratedFiles,
		DefaultParams: c.Reconstructor.Defaults.Params(),
		WarmUp:        c.Pipeline.WarmUp,
	}
}

// Params は domain.ReconstructionParams に変換します。
func (p ReconstructParam) Params() domain.ReconstructionParams {
	return domain.ReconstructionParams{
		SparseStructureSteps:       &p.SparseStructureSteps,
		SparseStructureCFGStrength: &p.SparseStructureCFGStrength,
		SLATSteps:                  &p.SLATSteps,
		SLATCFGStrength:            &p.SLATCFGStrength,
		NumOversamples:             &p.NumOversamples,
	}
}
