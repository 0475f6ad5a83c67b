package model

import (
	"fmt"
	"time"
)

// NotificationType tags the kind of event a notification describes.
type NotificationType string

const (
	// NotificationTypeAccessDenied marks a refused badge swipe.
	NotificationTypeAccessDenied NotificationType = "access_denied"
)

// Notification is a single user-visible alert delivered by the
// access-control server, either pushed over the realtime channel or
// returned by the notification list endpoint.
type Notification struct {
	// ID is assigned by the server and is stable across fetches.
	ID int `json:"id"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Type is the notification tag, e.g. "access_denied".
	Type NotificationType `json:"type"`

	// Read is only ever flipped by the mark-read paths.
	Read bool `json:"read"`

	// CreatedAt is kept as the raw server value. It may be empty or
	// not parseable; see CreatedTime.
	CreatedAt string `json:"createdAt"`

	// AccessLog is set for access-denial notifications.
	AccessLog *AccessLog `json:"accessLog,omitempty"`

	// UserID is the owning user when the server includes it.
	UserID *int `json:"userId,omitempty"`
}

// IsAccessDenied reports whether the notification describes a refused access.
func (n Notification) IsAccessDenied() bool {
	return n.Type == NotificationTypeAccessDenied
}

// CardID returns the badge id from the attached access log, or "" when
// there is none.
func (n Notification) CardID() string {
	if n.AccessLog == nil {
		return ""
	}
	return n.AccessLog.CardID
}

// Title is the headline shown for the notification in a list.
func (n Notification) Title() string {
	if n.IsAccessDenied() && n.CardID() != "" {
		return fmt.Sprintf("Access denied for card %s", n.CardID())
	}
	return n.Message
}

// Subtitle is the secondary line shown under the title. Empty when the
// notification carries no access log.
func (n Notification) Subtitle() string {
	if n.AccessLog == nil {
		return ""
	}
	if n.IsAccessDenied() {
		return fmt.Sprintf("Access denied - Card %s", n.AccessLog.CardID)
	}
	return n.Message
}

// CreatedTime parses CreatedAt. The boolean is false when the value is
// missing or in no recognised layout.
func (n Notification) CreatedTime() (time.Time, bool) {
	return ParseTimestamp(n.CreatedAt)
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a server timestamp in any of the layouts the
// server has been seen to emit.
func ParseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CountUnread returns the number of notifications with Read == false.
func CountUnread(notifications []Notification) int {
	count := 0
	for _, n := range notifications {
		if !n.Read {
			count++
		}
	}
	return count
}
