package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

// Accepted is used for work handed off to a background pass.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, apiResponse{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.AbortWithStatusJSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}
