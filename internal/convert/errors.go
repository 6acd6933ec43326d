package convert

import "errors"

// エラーコード一覧。HTTP層でステータスコードへ写像されます。
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConversionInProgress = "CONVERSION_IN_PROGRESS"
	CodeDocumentNotFound     = "DOCUMENT_NOT_FOUND"
	CodeJobNotFound          = "JOB_NOT_FOUND"
	CodeBatchNotFound        = "BATCH_NOT_FOUND"
	CodeUnsupportedSource    = "UNSUPPORTED_SOURCE"
	CodeConversionFailed     = "CONVERSION_FAILED"
	CodeConversionTimeout    = "CONVERSION_TIMEOUT"
	CodeStorageError         = "STORAGE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Error はAPI応答に載せるコードとメッセージを持つエラーです。
type Error struct {
	Code    string
	Message string
	Err     error

	// ConflictJob は CONVERSION_IN_PROGRESS の場合に既存ジョブの情報を保持します。
	ConflictJob *ConversionJob
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap は原因エラーを返します。
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError はコードとメッセージ付きのエラーを作成します。
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// newConflictError は既存ジョブの文脈付きで競合エラーを作成します。
func newConflictError(existing *ConversionJob) *Error {
	return &Error{
		Code:        CodeConversionInProgress,
		Message:     "このドキュメントは既に変換処理中です。",
		ConflictJob: existing,
	}
}

// Retryable はこのエラーで失敗したジョブを再投入する意味があるかを返します。
// 入力不正や競合は再試行しても結果が変わらないため false です。
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeConversionFailed, CodeConversionTimeout, CodeStorageError, CodeInternalError:
		return true
	}
	return false
}

// AsError は err から *Error を取り出します。取り出せない場合は
// INTERNAL_ERROR として包み直します。
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewError(CodeInternalError, "サーバー内部でエラーが発生しました。", err)
}
