package signal

import (
	"strings"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/gin-gonic/gin"
)

// SessionUserKey is the gin context key under which the HTTP layer stores the
// logged-in user id, if any.
const SessionUserKey = "user_id"

type wsCredentials struct {
	RoomID domain.RoomID
	User   *domain.User
}

// credentials reads room, user and name from the query string. The caller must
// be logged in and may only connect as its own user.
func credentials(c *gin.Context) (wsCredentials, error) {
	v := &domain.ValidationError{}
	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		v.Add("room")
	}
	uid := strings.TrimSpace(c.Query("user"))
	if uid == "" || len(uid) > domain.MaxUserIDLen {
		v.Add("user")
	}
	user := &domain.User{ID: domain.UserID(uid)}
	if err := user.SetDisplayName(c.Query("name")); err != nil {
		v.Add("name")
	}
	if err := v.OrNil(); err != nil {
		return wsCredentials{}, err
	}
	bound := c.GetString(SessionUserKey)
	if bound == "" {
		return wsCredentials{}, domain.ErrUnauthenticated
	}
	if bound != uid {
		return wsCredentials{}, domain.ErrForbidden
	}
	return wsCredentials{RoomID: domain.RoomID(room), User: user}, nil
}
