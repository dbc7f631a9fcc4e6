package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryfs/quarry/internal/logger"
	"github.com/quarryfs/quarry/pkg/gwerr"
)

// Envelope is the uniform JSON response shape of the API. Code mirrors
// the HTTP status so clients behind status-mangling proxies still see
// the outcome.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Success bool   `json:"success"`
	ErrorID string `json:"errorId,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: http.StatusOK, Message: "ok", Data: data, Success: true})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Code: http.StatusCreated, Message: "created", Data: data, Success: true})
}

// respondError maps any error onto the envelope. Internal and upstream
// failures log the cause server-side and surface only the error ID.
func respondError(c *gin.Context, log logger.Logger, err error) {
	e := gwerr.AsError(err)
	status := e.HTTPStatus()

	message := e.Message
	if e.Kind == gwerr.KindInternal || e.Kind == gwerr.KindUpstreamUnavailable {
		log.Err(e.Cause, "request %s %s failed (errorId=%s)", c.Request.Method, c.Request.URL.Path, e.ErrorID)
		message = "request failed"
	}

	c.AbortWithStatusJSON(status, Envelope{
		Code:    status,
		Message: message,
		Success: false,
		ErrorID: e.ErrorID,
	})
}
