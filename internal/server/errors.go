package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
)

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Status string `json:"status,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var verr *models.ValidationError
	var terr *models.InvalidTransitionError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &terr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *models.ValidationError
	var terr *models.InvalidTransitionError
	switch {
	case errors.As(err, &verr):
		resp.Field = verr.Field
	case errors.As(err, &terr):
		resp.Status = string(terr.From)
	}

	if code == http.StatusInternalServerError {
		s.Logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		resp.Error = "internal error"
	}

	_ = c.Error(err)
	c.JSON(code, resp)
}
