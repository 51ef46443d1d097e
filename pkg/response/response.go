// Package response writes the JSON envelope shared by every medrag endpoint.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/medrag/pkg/errors"
)

// HeaderRequestID is echoed into the envelope when the request ID middleware set it.
const HeaderRequestID = "X-Request-ID"

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code, 0 on success.
	Code int `json:"code"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Data contains the payload, omitted on errors.
	Data any `json:"data,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the response time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Success creates a successful response carrying data.
func Success(data any) *Response {
	return &Response{
		Code:      errors.OK.Code,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Err creates an error response from e.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{
		Code:      e.Code,
		Message:   e.MessageEN,
		Timestamp: time.Now().UnixMilli(),
	}
}

// OK writes data with HTTP 200.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, Success(data))
}

// Accepted writes data with HTTP 202 for work that continues in the background.
func Accepted(c *gin.Context, data any) {
	write(c, http.StatusAccepted, Success(data))
}

// Fail writes err with the status registered for its code. Errors that are
// not an Errno are reported as internal errors.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	write(c, e.HTTPStatus(), Err(e))
}

func write(c *gin.Context, status int, r *Response) {
	if r.RequestID == "" {
		r.RequestID = c.Writer.Header().Get(HeaderRequestID)
	}
	c.JSON(status, r)
}
