package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/access-console/internal/model"
)

const notificationPath = "/notification"

// ListNotifications returns every notification of the signed-in user.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var list []model.Notification
	if err := c.Get(ctx, notificationPath+"/user", &list); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, nil
}

// MarkAsRead marks one notification read on the server.
func (c *Client) MarkAsRead(ctx context.Context, id int) error {
	path := fmt.Sprintf("%s/%d/read", notificationPath, id)
	if err := c.Patch(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead marks every notification of the signed-in user read.
// A 2xx response with success=false is not an error; callers inspect
// the result.
func (c *Client) MarkAllAsRead(ctx context.Context) (*model.MarkAllResult, error) {
	var result model.MarkAllResult
	if err := c.Patch(ctx, notificationPath+"/read-all", nil, &result); err != nil {
		return nil, fmt.Errorf("marking all notifications read: %w", err)
	}
	return &result, nil
}

// SyncForCurrentUser asks the server to create any missing access-denied
// notifications for the signed-in user.
func (c *Client) SyncForCurrentUser(ctx context.Context) (*model.SyncResult, error) {
	var result model.SyncResult
	if err := c.Post(ctx, notificationPath+"/sync-for-current-user", nil, &result); err != nil {
		return nil, fmt.Errorf("syncing notifications for current user: %w", err)
	}
	return &result, nil
}

// SyncForAdmin backfills access-denied notifications for a newly added
// administrator.
func (c *Client) SyncForAdmin(ctx context.Context, adminID int) (*model.SyncResult, error) {
	var result model.SyncResult
	path := fmt.Sprintf("%s/sync-access-denied/%d", notificationPath, adminID)
	if err := c.Post(ctx, path, nil, &result); err != nil {
		return nil, fmt.Errorf("syncing notifications for admin %d: %w", adminID, err)
	}
	return &result, nil
}

// DebugNotifications returns the server's diagnostic dump of a user's
// stored notifications. The shape is server-defined.
func (c *Client) DebugNotifications(ctx context.Context, userID int) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("%s/debug/%d", notificationPath, userID)
	if err := c.Get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("reading debug notifications for user %d: %w", userID, err)
	}
	return raw, nil
}
