package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// 业务逻辑错误
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodePolicyViolation  ErrorCode = "POLICY_VIOLATION"

	// 存储错误
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// 外部服务错误
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeExtraction      ErrorCode = "EXTRACTION_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// String 返回类型名称
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"type"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeSystem}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{Code: ErrCodeValidationFailed, Message: message, Type: ErrorTypeValidation}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("Invalid input for field '%s': %s", field, reason),
		Type:    ErrorTypeValidation,
	}
}

// NewNotFoundError 创建资源未找到错误。
// 不存在与属于其他用户使用同一错误，调用方无法区分。
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeResourceNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Type:    ErrorTypeBusiness,
	}
}

// NewConflictError 创建冲突错误
func NewConflictError(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message, Type: ErrorTypeBusiness}
}

// NewPolicyError 创建策略拒绝错误
func NewPolicyError(message string) *AppError {
	return &AppError{Code: ErrCodePolicyViolation, Message: message, Type: ErrorTypeBusiness}
}

// NewStoreUnavailableError 创建存储不可用错误
func NewStoreUnavailableError(op string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeStoreUnavailable,
		Message: fmt.Sprintf("store unavailable during %s", op),
		Type:    ErrorTypeSystem,
		Cause:   cause,
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeExternal, Cause: cause}
}

// GetAppError 获取错误链中的AppError，如果没有则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternal, "Internal error").WithCause(err)
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func hasCode(err error, codes ...ErrorCode) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	for _, c := range codes {
		if appErr.Code == c {
			return true
		}
	}
	return false
}

// IsValidation 是否为验证错误
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidationFailed, ErrCodeInvalidInput)
}

// IsNotFound 是否为未找到
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeResourceNotFound)
}

// IsConflict 是否为冲突
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsPolicyViolation 是否被策略拒绝
func IsPolicyViolation(err error) bool {
	return hasCode(err, ErrCodePolicyViolation)
}

// IsStoreUnavailable 是否为存储不可用
func IsStoreUnavailable(err error) bool {
	return hasCode(err, ErrCodeStoreUnavailable)
}

// IsExternal 是否为外部服务错误
func IsExternal(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Type == ErrorTypeExternal
}
