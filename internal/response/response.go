// Package response provides unified JSON response helpers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app_errors "attend-sync/internal/errors"
)

// Response is the unified envelope for all API responses.
type Response struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success sends a 200 response with the given data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    "SUCCESS",
		Message: "Success",
		Data:    data,
	})
}

// Created sends a 201 response with the given data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    "SUCCESS",
		Message: "Created",
		Data:    data,
	})
}

// Error sends an error response from an APIError.
func Error(c *gin.Context, apiErr *app_errors.APIError) {
	c.JSON(apiErr.HTTPStatus, Response{
		Code:    apiErr.Code,
		Message: apiErr.Message,
	})
}

// ErrorWithData sends an error response carrying structured detail, used
// for verification failures where the client needs the failure code.
func ErrorWithData(c *gin.Context, apiErr *app_errors.APIError, data interface{}) {
	c.JSON(apiErr.HTTPStatus, Response{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Data:    data,
	})
}
