package signal

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) admit(ctx context.Context, id domain.RoomID) error {
	return ctl.Orch.Rooms.Admit(ctx, id)
}

func writeAdmissionError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials", "fields": verr.Fields})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "credentials do not match session"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, app.ErrRoomInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "room is not active"})
	default:
		log.Error().Err(err).Str("module", "signal").Msg("admission failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
