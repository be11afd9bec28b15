package domain

import (
	"image"
	"time"
)

// GenerationRequest は 1 枚の入力画像からの生成要求です。
type GenerationRequest struct {
	Image  []byte // デコード前のラスタデータ（PNG, JPEG など）
	Seed   int64  // 負の値は自動選択
	Params ReconstructionParams
}

// ReconstructionParams は再構成モデルへそのまま渡すノブです。
// nil のフィールドは設定のデフォルト値を使います。
type ReconstructionParams struct {
	SparseStructureSteps       *int     `json:"sparse_structure_steps,omitempty" yaml:"sparse_structure_steps,omitempty"`
	SparseStructureCFGStrength *float64 `json:"sparse_structure_cfg_strength,omitempty" yaml:"sparse_structure_cfg_strength,omitempty"`
	SLATSteps                  *int     `json:"slat_steps,omitempty" yaml:"slat_steps,omitempty"`
	SLATCFGStrength            *float64 `json:"slat_cfg_strength,omitempty" yaml:"slat_cfg_strength,omitempty"`
	NumOversamples             *int     `json:"num_oversamples,omitempty" yaml:"num_oversamples,omitempty"`
}

// Override は overrides で指定されたフィールドだけを上書きした新しい値を返します。
func (p ReconstructionParams) Override(overrides ReconstructionParams) ReconstructionParams {
	out := p
	if overrides.SparseStructureSteps != nil {
		out.SparseStructureSteps = overrides.SparseStructureSteps
	}
	if overrides.SparseStructureCFGStrength != nil {
		out.SparseStructureCFGStrength = overrides.SparseStructureCFGStrength
	}
	if overrides.SLATSteps != nil {
		out.SLATSteps = overrides.SLATSteps
	}
	if overrides.SLATCFGStrength != nil {
		out.SLATCFGStrength = overrides.SLATCFGStrength
	}
	if overrides.NumOversamples != nil {
		out.NumOversamples = overrides.NumOversamples
	}
	return out
}

// GenerationResult は生成結果です。
type GenerationResult struct {
	Artifact []byte // 再構成成果物（PLY などの不透明なバイナリ）
	Elapsed  time.Duration
	Seed     int64 // 実際に使われたシード
	Report   ConsistencyReport

	// 設定で有効な場合のみ埋められる表示用画像
	PrimaryEdited       *image.NRGBA
	PrimaryNoBackground *image.NRGBA
}
