// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// APIResponse is the envelope of every control API reply
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// errorCodes maps statuses to the codes clients switch on. The device
// specific ones come from the protocol error mapping in the handlers.
var errorCodes = map[int]string{
	http.StatusBadRequest:            "BAD_REQUEST",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusConflict:              "DEVICE_BUSY",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusUnprocessableEntity:   "DEVICE_REJECTED",
	http.StatusInternalServerError:   "INTERNAL_SERVER_ERROR",
	http.StatusServiceUnavailable:    "DEVICE_UNAVAILABLE",
	http.StatusGatewayTimeout:        "DEVICE_TIMEOUT",
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	respond(c, statusCode, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response; err, when set, becomes the
// details field.
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{Code: ErrorCode(statusCode), Message: message}
	if err != nil {
		apiError.Details = err.Error()
	}
	respond(c, statusCode, APIResponse{Message: message, Error: apiError})
}

// ValidationErrorResponse sends a 400 listing the offending fields
func ValidationErrorResponse(c *gin.Context, fields map[string]string) {
	respond(c, http.StatusBadRequest, APIResponse{
		Message: "Validation failed",
		Error:   &APIError{Code: "VALIDATION_ERROR", Message: "Request validation failed"},
		Data:    gin.H{"validation_errors": fields},
	})
}

// ErrorCode returns the error code for a status
func ErrorCode(statusCode int) string {
	if code, ok := errorCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}

func respond(c *gin.Context, statusCode int, response APIResponse) {
	response.Timestamp = time.Now()
	response.RequestID = c.GetString(RequestIDKey)
	c.JSON(statusCode, response)
}
