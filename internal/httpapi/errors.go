package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finpipe/internal/activity"
	"finpipe/internal/lifecycle"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

// writeError is the single place errors become HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		verr *lifecycle.ValidationError
		cerr *lifecycle.CriticalError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &cerr):
		s.log.Error("critical notification failure", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": cerr.Error()})
	case errors.Is(err, activity.ErrAllSourcesFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": activity.ErrAllSourcesFailed.Error()})
	default:
		s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
