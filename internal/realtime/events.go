package realtime

import "github.com/nhle/access-console/internal/model"

// Event names accepted by AddListener.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventError        = "error"

	// EventStateChanged fires on every State transition.
	EventStateChanged = "state_changed"

	EventNotification         = "notification"
	EventAdminNotification    = "admin-notification"
	EventNotificationRead     = "notification_read"
	EventAllNotificationsRead = "all_notifications_read"
)

// Event is delivered to listeners. The concrete type is one of
// NotificationEvent, NotificationReadEvent, AllNotificationsReadEvent or
// ConnectionStateChangedEvent.
type Event interface {
	// Name is the event name the listener was registered under.
	Name() string

	event()
}

// NotificationEvent carries a pushed notification.
type NotificationEvent struct {
	Notification model.Notification

	// Admin is true for admin-notification pushes.
	Admin bool
}

func (e NotificationEvent) Name() string {
	if e.Admin {
		return EventAdminNotification
	}
	return EventNotification
}

// NotificationReadEvent reports that one notification was read elsewhere.
type NotificationReadEvent struct {
	ID int
}

func (NotificationReadEvent) Name() string { return EventNotificationRead }

// AllNotificationsReadEvent reports that every notification was read elsewhere.
type AllNotificationsReadEvent struct{}

func (AllNotificationsReadEvent) Name() string { return EventAllNotificationsRead }

// ConnectionStateChangedEvent is delivered for connect, disconnect,
// connect_error, error and state_changed.
type ConnectionStateChangedEvent struct {
	// Trigger is the event name this instance was dispatched under.
	Trigger string

	State State

	// Reason is a Socket.IO style disconnect reason, when there is one.
	Reason string

	Err error

	// Attempt is the number of failed connection attempts in the
	// current outage.
	Attempt int
}

func (e ConnectionStateChangedEvent) Name() string { return e.Trigger }

func (NotificationEvent) event()           {}
func (NotificationReadEvent) event()       {}
func (AllNotificationsReadEvent) event()   {}
func (ConnectionStateChangedEvent) event() {}

// Listener receives events. Listeners run synchronously on the
// connection's goroutine and must not block.
type Listener func(Event)

// Subscription identifies one AddListener registration. The zero value
// is valid and removes nothing.
type Subscription struct {
	event string
	id    uint64
}

// Event returns the event name of the registration.
func (s Subscription) Event() string {
	return s.event
}

type listenerEntry struct {
	id uint64
	fn Listener
}
