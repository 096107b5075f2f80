package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/tripsync/internal/adapters/signal"
	"github.com/dkeye/tripsync/internal/app/lifecycle"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch  *orch.Orchestrator
	rooms *lifecycle.Service
	users core.UserDirectory
}

type LoginRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type JoinResponse struct {
	Room      *domain.Room `json:"room"`
	ShareLink string       `json:"shareLink"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(h.orch.Rooms.List())})
}

// login creates a guest identity and binds it to the cookie session.
func (h *handlers) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Fields: []string{"displayName"}})
		return
	}
	user, err := domain.NewUser(req.DisplayName, req.Email)
	if err != nil {
		writeError(c, &domain.ValidationError{Fields: []string{"displayName"}})
		return
	}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		writeError(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionUserField, string(user.ID))
	if err := sess.Save(); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Str("ct", c.GetString("client_token")).Msg("guest login")
	c.JSON(http.StatusOK, user)
}

func (h *handlers) createRoom(c *gin.Context) {
	var req lifecycle.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Fields: []string{"body"}})
		return
	}
	caller := lifecycle.Caller{UserID: domain.UserID(c.GetString(signal.SessionUserKey))}
	res, err := h.rooms.CreateRoom(c.Request.Context(), caller, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) getRoom(c *gin.Context) {
	room, err := h.rooms.Room(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JoinResponse{Room: room, ShareLink: room.ShareLink})
}

func (h *handlers) resolveJoinCode(c *gin.Context) {
	room, err := h.rooms.ResolveJoinCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JoinResponse{Room: room, ShareLink: room.ShareLink})
}

func (h *handlers) listLiveRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Rooms.List())
}

// evictRoom disconnects everyone from a live room. Only the owner may do it.
func (h *handlers) evictRoom(c *gin.Context) {
	uid := domain.UserID(c.GetString(signal.SessionUserKey))
	if uid == "" {
		writeError(c, domain.ErrUnauthenticated)
		return
	}
	id := domain.RoomID(c.Param("id"))
	room, err := h.rooms.Room(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if room.OwnerID != uid {
		writeError(c, domain.ErrForbidden)
		return
	}
	if err := h.orch.EvictRoom(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
