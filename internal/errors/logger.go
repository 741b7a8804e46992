package errors

import (
	"runtime"

	"go.uber.org/zap"
)

// ErrorLogger 按错误类型选择日志级别
type ErrorLogger struct {
	logger *zap.Logger
}

// NewErrorLogger 创建错误日志器
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLogger{logger: logger}
}

// LogError 记录错误；验证错误只记 Info，不当作系统错误
func (el *ErrorLogger) LogError(operation string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	fields = append(fields,
		zap.String("operation", operation),
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", appErr.Type.String()),
		zap.String("error_message", appErr.Message),
	)
	if appErr.Cause != nil {
		fields = append(fields, zap.String("cause", appErr.Cause.Error()))
	}

	switch appErr.Type {
	case ErrorTypeSystem:
		fields = append(fields, zap.String("stack_trace", stackTrace()))
		el.logger.Error("System error", fields...)
	case ErrorTypeBusiness:
		el.logger.Warn("Business error", fields...)
	case ErrorTypeValidation:
		el.logger.Info("Validation error", fields...)
	case ErrorTypeExternal:
		el.logger.Warn("External service error", fields...)
	default:
		el.logger.Error("Unknown error type", fields...)
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
