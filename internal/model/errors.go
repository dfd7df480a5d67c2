// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 定義済みエラー
var (
	// ErrConstraintViolation は一意制約・検査制約・外部キー制約の違反を表す。
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrExtractionIncomplete は抽出ループが途中で打ち切られたことを表す。
	ErrExtractionIncomplete = errors.New("extraction incomplete")
	// ErrInvalidRecord は抽出境界で形式不正と判定されたレコードを表す。
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound は更新対象が存在しないことを表す。
	ErrNotFound = errors.New("not found")
)

// FatalError はバッチ全体を中断するエラーを表す。
// プロバイダへの疎通失敗、DB到達不能、スナップショット取得失敗など。
type FatalError struct {
	Stage string // 失敗した段階: probe, connect, snapshot, extract など
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *FatalError) Error() string {
	return fmt.Sprintf("[fatal:%s] %v", e.Stage, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FatalError) Unwrap() error { return e.Err }

// NewFatalError はFatalErrorを生成する。
func NewFatalError(stage string, err error) *FatalError {
	return &FatalError{Stage: stage, Err: err}
}

// RecordError は1レコードに閉じたエラーを表す。ログ出力と集計の対象で、バッチは継続する。
type RecordError struct {
	Title string
	Step  string // 失敗したステップ: validate, author, publisher, book, session
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *RecordError) Error() string {
	return fmt.Sprintf("[record:%s] %q: %v", e.Step, e.Title, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *RecordError) Unwrap() error { return e.Err }

// NewRecordError はRecordErrorを生成する。
func NewRecordError(title, step string, err error) *RecordError {
	return &RecordError{Title: title, Step: step, Err: err}
}

// IsFatal はエラーがバッチ中断を要するかどうかを返す。
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
