package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/access-console/internal/notification"
	"github.com/nhle/access-console/internal/ui/panel"
	"github.com/nhle/access-console/internal/ui/toast"
)

// toastMsg wraps a toast raised by the store so the app can re-arm the
// bridge after handling it.
type toastMsg struct {
	toast.ShowMsg
}

// Bridge carries store snapshots and toasts from store goroutines into
// the Bubble Tea loop. It implements notification.Toaster.
type Bridge struct {
	snapshots chan notification.Snapshot
	toasts    chan toast.ShowMsg
}

// NewBridge creates an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{
		snapshots: make(chan notification.Snapshot, 1),
		toasts:    make(chan toast.ShowMsg, 8),
	}
}

// Publish queues a snapshot. Only the latest undelivered snapshot is kept.
func (b *Bridge) Publish(s notification.Snapshot) {
	for {
		select {
		case b.snapshots <- s:
			return
		default:
		}
		select {
		case <-b.snapshots:
		default:
		}
	}
}

// Success queues a success toast.
func (b *Bridge) Success(msg string) {
	b.push(toast.ShowMsg{Kind: toast.KindSuccess, Text: msg})
}

// Error queues an error toast.
func (b *Bridge) Error(msg string) {
	b.push(toast.ShowMsg{Kind: toast.KindError, Text: msg})
}

func (b *Bridge) push(m toast.ShowMsg) {
	select {
	case b.toasts <- m:
	default:
		// Drop if the UI is behind.
	}
}

// WaitSnapshot returns a tea.Cmd that delivers the next snapshot.
func (b *Bridge) WaitSnapshot() tea.Cmd {
	return func() tea.Msg {
		return panel.SnapshotMsg{Snapshot: <-b.snapshots}
	}
}

// WaitToast returns a tea.Cmd that delivers the next toast.
func (b *Bridge) WaitToast() tea.Cmd {
	return func() tea.Msg {
		return toastMsg{<-b.toasts}
	}
}
