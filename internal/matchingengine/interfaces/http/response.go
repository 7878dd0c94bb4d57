package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/logger"
	"github.com/wyfcoding/sharematching/pkg/middleware"
)

// retryAfterSeconds 存储冲突时建议客户端的重试间隔
const retryAfterSeconds = 1

// Response 统一响应结构
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{
		Code:      "OK",
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:      "BAD_REQUEST",
		Message:   message,
		RequestID: c.GetString(middleware.RequestIDKey),
	})
}

// failure 按错误码映射 HTTP 状态。data 非空时一并返回（部分成交后失败）
func failure(c *gin.Context, err error, data any) {
	status := statusOf(err)
	code := string(domain.CodeOf(err))
	message := err.Error()
	if code == "" {
		code = "INTERNAL"
		message = "internal server error"
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error(c.Request.Context(), "request failed", "error", err)
	} else {
		logger.Info(c.Request.Context(), "request rejected", "code", code, "error", err)
	}

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.JSON(status, Response{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
	})
}

func statusOf(err error) int {
	if domain.IsValidation(err) {
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderAlreadyFilled), errors.Is(err, domain.ErrOrderAlreadyCancelled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrSymbolNotTradeable):
		return http.StatusUnprocessableEntity
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
