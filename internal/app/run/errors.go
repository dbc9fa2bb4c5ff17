package run

import (
	"errors"
	"fmt"
)

const (
	ErrCodeInvalidKeyLength    = "invalid_key_length"
	ErrCodeDirectoryUnreadable = "directory_unreadable"
)

var (
	// ErrInvalidKeyLength 表示 key 长度不是 domain.KeySize。
	ErrInvalidKeyLength = errors.New("key 长度必须恰好为 8 字节")
	// ErrDirectoryUnreadable 表示工作目录无法列出。
	ErrDirectoryUnreadable = errors.New("工作目录不可读")
)

// Error 是 cycle 级（会中止整个 cycle）的结构化错误。
// 单文件失败不会以 Error 形式返回，而是记录在 CycleReport.Files 中。
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrInvalidKeyLength) 这类判断与 Code 保持一致。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidKeyLength:
		return e.Code == ErrCodeInvalidKeyLength
	case ErrDirectoryUnreadable:
		return e.Code == ErrCodeDirectoryUnreadable
	}
	return false
}

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
