package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const problemBaseURL = "https://voice-relay.troikatech.in/problems"

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Instance string `json:"instance,omitempty"`
}

var problemSlugs = map[int]string{
	http.StatusBadRequest:            "bad-request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not-found",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "payload-too-large",
	http.StatusTooManyRequests:       "rate-limit-exceeded",
	http.StatusInternalServerError:   "internal-error",
	http.StatusBadGateway:            "upstream-error",
	http.StatusServiceUnavailable:    "service-unavailable",
}

// ErrorResponse aborts the request with a problem+json body.
func ErrorResponse(c *gin.Context, status int, title, detail string) {
	slug, ok := problemSlugs[status]
	if !ok {
		slug = "error"
	}
	if title == "" {
		title = http.StatusText(status)
	}

	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, ProblemDetail{
		Type:     problemBaseURL + "/" + slug,
		Title:    title,
		Status:   status,
		Detail:   detail,
		TraceID:  c.GetString("trace_id"),
		Instance: c.Request.URL.Path,
	})
}

// InternalError logs err and answers 500 without leaking it.
func InternalError(c *gin.Context, err error, logger *zap.Logger) {
	logger.Error("Internal server error",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("trace_id", c.GetString("trace_id")),
	)
	ErrorResponse(c, http.StatusInternalServerError, "", "An unexpected error occurred. Please try again later.")
}

func BadRequest(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadRequest, "", detail)
}

func Unauthorized(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnauthorized, "", detail)
}

func NotFound(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusNotFound, "", detail)
}

func Conflict(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusConflict, "", detail)
}

func TooManyRequests(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusTooManyRequests, "", detail)
}

// BadGateway reports a failing upstream provider.
func BadGateway(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadGateway, "", detail)
}

func ServiceUnavailable(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusServiceUnavailable, "", detail)
}
