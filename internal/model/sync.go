package model

import "time"

// SyncResult is the response of the catch-up sync endpoints.
type SyncResult struct {
	Success                 bool   `json:"success"`
	AccessDeniedCount       int    `json:"accessDeniedCount"`
	OtherNotificationsCount int    `json:"otherNotificationsCount"`
	TotalCount              int    `json:"totalCount"`
	Message                 string `json:"message"`
	Error                   string `json:"error,omitempty"`
}

// MarkAllResult is the response of the mark-all-read endpoint. The
// server may add other fields; they are ignored.
type MarkAllResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// SyncRun is a locally recorded sync request. AdminID is zero for a sync
// of the signed-in user.
type SyncRun struct {
	ID        string
	AdminID   int
	Result    SyncResult
	CreatedAt time.Time
}
