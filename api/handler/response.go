package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netcomm/internal/service"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: message, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Code: code, Message: message})
}

// failErr 按错误分类选择状态码
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		fail(c, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
	case errors.Is(err, service.ErrBatchTooLarge),
		errors.Is(err, service.ErrNoEndpoints),
		errors.Is(err, service.ErrNoCommands):
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, service.ErrNotRunning):
		fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	case errors.Is(err, errdefs.ErrConnectFailed),
		errors.Is(err, errdefs.ErrAuthenticationFailed),
		errors.Is(err, errdefs.ErrAuthorizationFailed):
		fail(c, http.StatusBadGateway, errdefs.Name(err), err.Error())
	case errors.Is(err, errdefs.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, errdefs.Name(err), err.Error())
	default:
		fail(c, http.StatusInternalServerError, "EXECUTION_FAILED", err.Error())
	}
}
