package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Newf 创建带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "internal server error")
	ErrParam       = New(BadRequest, "invalid parameter")

	// ErrInvalidConfig 配置错误，构造阶段直接失败，不进入运行期重试
	ErrInvalidConfig = New(BadRequest, "invalid config")
)

// IsPermanent 判断错误是否为永久性错误（不应重试）。
// 4xx 视为永久（鉴权失败、维度不匹配等配置类问题），其余视为瞬时。
func IsPermanent(err error) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code >= 400 && ce.Code < 500
	}
	return false
}
