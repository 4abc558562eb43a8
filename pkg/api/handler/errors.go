package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/durable-engine/pkg/api/dto"
	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/core/types"
)

// statusCode 将引擎错误映射为HTTP状态码
func statusCode(err error) int {
	switch {
	case errors.Is(err, types.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrWorkflowNotRegistered):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrWorkflowConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrStoreUnavailable), errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusCode(err)
	c.JSON(code, dto.NewErrorResponse(code, err.Error()))
}
