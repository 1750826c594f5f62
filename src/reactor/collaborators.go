package reactor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionStore is the authenticated session owned by the application.
type SessionStore interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// OnlineUser is one entry of the online users list.
type OnlineUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// OnlineUsersPage is one page of the online users listing.
type OnlineUsersPage struct {
	Users []OnlineUser `json:"users"`
	Total int          `json:"total"`
}

// PresenceAPI lists online users.
type PresenceAPI interface {
	GetOnlineUsers(ctx context.Context, limit, offset int) (OnlineUsersPage, error)
}

// Profile is the subset of the current user the ban watcher needs.
type Profile struct {
	ID          string    `json:"id"`
	BanReason   string    `json:"ban_reason,omitempty"`
	BannedUntil time.Time `json:"banned_until,omitempty"`
}

// ProfileAPI fetches the current user.
type ProfileAPI interface {
	GetMe(ctx context.Context) (Profile, error)
}

// Sender transmits an outbound message, silently dropping it while offline.
type Sender interface {
	Send(v any)
}

// contain recovers a panic raised by a collaborator in a background call.
// It must be deferred directly.
func contain(logger zerolog.Logger, op string) {
	if r := recover(); r != nil {
		logger.Error().Interface("panic", r).Str("op", op).Msg("collaborator panic")
	}
}
