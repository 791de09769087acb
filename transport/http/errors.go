package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pushauth/core"
	"github.com/rs/zerolog"
)

// errorStatus maps protocol errors to a status code and a public message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNoDeviceFound):
		return http.StatusNotFound, "No device found for user"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrBadSignature):
		return http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, core.ErrAlreadyRegistered):
		return http.StatusConflict, "Device already registered"
	case errors.Is(err, core.ErrDuplicateResult):
		return http.StatusConflict, "Result already submitted"
	case errors.Is(err, core.ErrInvalidKeyMaterial):
		return http.StatusBadRequest, "Invalid key material"
	}
	return http.StatusInternalServerError, "Internal error"
}

func abortWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
