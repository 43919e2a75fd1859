package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/relaytalk/pkg/session"
)

var errPeerNotFound = &session.Error{Kind: session.KindNotFound, Op: "peer", Err: session.ErrUnknownPeer}

// statusFor maps a session error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	}

	switch session.KindOf(err) {
	case session.KindState:
		return http.StatusConflict
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindServer, session.KindProtocol:
		return http.StatusBadGateway
	case session.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindName(err error) string {
	var serr *session.Error
	if errors.As(err, &serr) {
		return serr.Kind.String()
	}
	return ""
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{
		Error: err.Error(),
		Code:  kindName(err),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request",
		Message: message,
	})
}
