package notification

import (
	"fmt"
	"time"

	"github.com/nhle/access-console/internal/model"
)

// Normalize fills the gaps the server leaves in pushed access-denial
// notifications. Other notifications are returned unchanged.
func Normalize(n model.Notification, now time.Time) model.Notification {
	if !n.IsAccessDenied() || n.AccessLog == nil {
		return n
	}
	if n.Message == "" {
		n.Message = fmt.Sprintf("Access denied for card %s", n.AccessLog.CardID)
	}
	if n.CreatedAt == "" {
		n.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	return n
}

func prepend(list []model.Notification, n model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(list)+1)
	out = append(out, n)
	return append(out, list...)
}

func markRead(list []model.Notification, id int) []model.Notification {
	out := make([]model.Notification, len(list))
	copy(out, list)
	for i := range out {
		if out[i].ID == id {
			out[i].Read = true
		}
	}
	return out
}

func markAllRead(list []model.Notification) []model.Notification {
	out := make([]model.Notification, len(list))
	copy(out, list)
	for i := range out {
		out[i].Read = true
	}
	return out
}
