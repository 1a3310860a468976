package domain

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误码
type ErrorCode string

const (
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeParseFailure      ErrorCode = "PARSE_FAILURE"
	ErrCodeZeroTrueCount     ErrorCode = "ZERO_TRUE_COUNT"
	ErrCodeLoadCountMismatch ErrorCode = "LOAD_COUNT_MISMATCH"
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeQuerySetMismatch  ErrorCode = "QUERY_SET_MISMATCH"
	ErrCodeTableNotFound     ErrorCode = "TABLE_NOT_FOUND"
	ErrCodeNotSupported      ErrorCode = "NOT_SUPPORTED"
)

// Error 错误类型（带错误码与堆栈）
type Error struct {
	Code    ErrorCode
	Message string
	// Raw 引擎返回的原始文本，仅 PARSE_FAILURE 使用
	Raw   string
	Stack []string
	Cause error
}

// Error 接口实现
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace 返回调用堆栈
func (e *Error) StackTrace() []string {
	return e.Stack
}

// NewError 创建错误
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   cause,
	}
}

// Errorf 按格式创建错误
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStackTrace(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	// 已经是本包的错误类型时保留原有堆栈
	var coded *Error
	if errors.As(err, &coded) {
		return &Error{
			Code:    code,
			Message: message,
			Raw:     coded.Raw,
			Stack:   coded.Stack,
			Cause:   err,
		}
	}

	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   err,
	}
}

// ParseFailure 创建解析失败错误，附带引擎的原始响应
func ParseFailure(raw, reason string) *Error {
	return &Error{
		Code:    ErrCodeParseFailure,
		Message: reason,
		Raw:     raw,
		Stack:   captureStackTrace(),
	}
}

// InvalidParameters 创建参数错误
func InvalidParameters(format string, args ...interface{}) *Error {
	return &Error{
		Code:    ErrCodeInvalidParameters,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStackTrace(),
	}
}

// captureStackTrace 捕获调用堆栈
func captureStackTrace() []string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return []string{}
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()

		fn := frame.Function
		file := frame.File
		if idx := strings.LastIndex(file, "/"); idx != -1 {
			file = file[idx+1:]
		}
		if idx := strings.LastIndex(fn, "/"); idx != -1 {
			fn = fn[idx+1:]
		}
		stack = append(stack, fmt.Sprintf("  at %s (%s:%d)", fn, file, frame.Line))

		if !more {
			break
		}
	}

	return stack
}

// IsErrorCode 检查错误链中是否存在指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}

// GetErrorCode 获取最外层错误码
func GetErrorCode(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// RawResponse 返回错误链中携带的原始响应文本
func RawResponse(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Raw
	}
	return ""
}
