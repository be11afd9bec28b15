package generator

import (
	"errors"
	"fmt"

	"github.com/shouni/multiview-image-kit/pkg/domain"
)

// PrimaryMode は正面ビューの作り方です。
type PrimaryMode string

const (
	// PrimaryEnhanced は補正済みの入力画像をそのまま背景除去に回します。
	PrimaryEnhanced PrimaryMode = "enhanced"
	// PrimaryEdit は忠実さを保つ指示文で一度編集してから背景除去に回します。
	PrimaryEdit PrimaryMode = "edit"
)

// ParsePrimaryMode は設定値を PrimaryMode に変換します。空文字は PrimaryEdit です。
func ParsePrimaryMode(s string) (PrimaryMode, error) {
	switch PrimaryMode(s) {
	case "", PrimaryEdit:
		return PrimaryEdit, nil
	case PrimaryEnhanced:
		return PrimaryEnhanced, nil
	}
	return "", fmt.Errorf("unknown primary mode %q", s)
}

// 編集モデルに渡す役割ごとの指示文
const (
	PrimaryInstruction = "Preserve exact colors, shapes, and all details. Only improve image quality and remove background with neutral solid color. Keep the same viewing angle"
	LeftInstruction    = "Rotate object 45 degrees left while preserving exact colors, textures, proportions, and all details. Clean neutral background. Maintain original quality and sharpness"
	RightInstruction   = "Rotate object 45 degrees right while preserving exact colors, textures, proportions, and all details. Clean neutral background. Maintain original quality and sharpness"
	BackInstruction    = "Show back view of object while preserving exact colors, textures, proportions, and all details. Clean neutral background. Maintain original quality and sharpness"
)

// Instruction は役割に対応する指示文を返します。
func Instruction(role domain.Role) string {
	switch role {
	case domain.RoleLeft:
		return LeftInstruction
	case domain.RoleRight:
		return RightInstruction
	case domain.RoleBack:
		return BackInstruction
	}
	return PrimaryInstruction
}

// ReconstructionRequest は再構成モデルへの入力です。Views は domain.Roles の順に並びます。
type ReconstructionRequest struct {
	Views  []domain.View
	Seed   int64
	Params domain.ReconstructionParams
}

// State はリクエスト単位の状態機械の状態です。
type State string

const (
	StateIdle               State = "idle"
	StateSeedResolved       State = "seed_resolved"
	StatePrimaryViewReady   State = "primary_view_ready"
	StateLeftReady          State = "left_ready"
	StateRightReady         State = "right_ready"
	StateBackReady          State = "back_ready"
	StateLightingNormalized State = "lighting_normalized"
	StateValidated          State = "validated"
	StateReconstructed      State = "reconstructed"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// readyState は役割のビューが揃ったときの状態です。
func readyState(role domain.Role) State {
	switch role {
	case domain.RoleLeft:
		return StateLeftReady
	case domain.RoleRight:
		return StateRightReady
	case domain.RoleBack:
		return StateBackReady
	}
	return StatePrimaryViewReady
}

// Stage は処理ステップの名前で、メトリクスとエラーの両方に使います。
type Stage string

const (
	StageDecode      Stage = "decode"
	StageEnhance     Stage = "enhance"
	StageEdit        Stage = "edit"
	StageCalibrate   Stage = "calibrate"
	StageRemoveBG    Stage = "remove_background"
	StageNormalize   Stage = "normalize"
	StageValidate    Stage = "validate"
	StageReconstruct Stage = "reconstruct"
	StageSave        Stage = "save"
)

// StageError はどのステップ（とビュー）で失敗したかを保持します。
type StageError struct {
	Stage Stage
	Role  domain.Role // ビューに紐づかないステップでは空
	Err   error
}

func (e *StageError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s (%s view): %v", e.Stage, e.Role, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage は err に含まれる StageError のステップ名を返します。
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
