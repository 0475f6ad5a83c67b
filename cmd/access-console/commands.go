package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/access-console/internal/app"
	"github.com/nhle/access-console/internal/credential"
	"github.com/nhle/access-console/internal/model"
	appsync "github.com/nhle/access-console/internal/sync"
	"github.com/nhle/access-console/internal/ui/panel"
)

func runPanel(ctx context.Context, e *env) error {
	rt := e.newRealtime()
	defer rt.Disconnect()

	bridge := app.NewBridge()
	st := e.newStore(rt, bridge)
	defer st.Stop()
	unsubscribe := st.Subscribe(bridge.Publish)
	defer unsubscribe()

	deps := app.Deps{
		Store:    st,
		Realtime: rt,
		Tokens:   e.tokens,
		Bridge:   bridge,
		Logout:   e.tokens.Clear,
		Logger:   e.logger,
	}
	if e.cfg.Sync.PollInterval > 0 {
		poller := appsync.New(st, e.cfg.Sync.PollInterval, e.logger)
		defer poller.Stop()
		deps.Poller = poller
	}
	if e.cache != nil {
		deps.History = e.cache
	}

	watcher := credential.NewWatcher(e.tokens, 0, e.logger)
	watcher.OnLogout = st.Reset
	watcher.OnLogin = func(ctx context.Context, _ string) {
		go func() {
			if err := st.Start(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("restarting notifications after login")
			}
		}()
	}
	go watcher.Run(ctx)

	p := tea.NewProgram(app.New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running panel: %w", err)
	}
	return nil
}

func runLogin(e *env) error {
	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Paste the bearer token issued by " + e.cfg.Server.BaseURL).
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					_, err := credential.ParseIdentity(strings.TrimSpace(s))
					return err
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	ident, err := credential.ParseIdentity(token)
	if err != nil {
		return err
	}
	if ident.Expired(time.Now()) {
		fmt.Fprintln(os.Stderr, "warning: token expired at", ident.ExpiresAt.Format(time.RFC3339))
	}

	if err := e.tokens.Save(credential.Session{AccessToken: token, UserID: ident.UserID}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	if _, err := os.Stat(e.cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := model.SaveConfig(e.cfgPath, e.cfg); err != nil {
			e.logger.Warn().Err(err).Msg("writing default config")
		}
	}

	fmt.Printf("Signed in as user %d\n", ident.UserID)
	return nil
}

func runLogout(ctx context.Context, e *env) error {
	if err := e.tokens.Clear(); err != nil {
		return err
	}
	if e.cache != nil {
		if err := e.cache.ClearSnapshot(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("clearing notification snapshot")
		}
	}
	fmt.Println("Signed out")
	return nil
}

func runSync(ctx context.Context, e *env, adminID int) error {
	var (
		res *model.SyncResult
		err error
	)
	if adminID != 0 {
		res, err = e.client.SyncForAdmin(ctx, adminID)
	} else {
		res, err = e.client.SyncForCurrentUser(ctx)
	}
	if err != nil {
		return err
	}

	if e.cache != nil {
		run := model.SyncRun{AdminID: adminID, Result: *res}
		if err := e.cache.RecordSync(ctx, run); err != nil {
			e.logger.Warn().Err(err).Msg("recording sync run")
		}
	}

	printSyncResult(os.Stdout, res)

	if e.cache != nil {
		runs, err := e.cache.RecentSyncs(ctx, 5)
		if err == nil && len(runs) > 1 {
			fmt.Println("\nRecent syncs:")
			printSyncHistory(os.Stdout, runs)
		}
	}

	if !res.Success {
		return errors.New("sync rejected by server")
	}
	return nil
}

func runDebug(ctx context.Context, e *env, userID int) error {
	if userID == 0 {
		userID = e.tokens.UserID()
	}
	if userID == 0 {
		return errors.New("unknown user id, pass --user")
	}

	raw, err := e.client.DebugNotifications(ctx, userID)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		out.Reset()
		out.Write(raw)
	}
	fmt.Println(out.String())
	return nil
}

func runList(ctx context.Context, e *env) error {
	list, err := e.client.ListNotifications(ctx)
	if err != nil {
		if e.cache == nil {
			return err
		}
		cached, cacheErr := e.cache.LoadSnapshot(ctx)
		if cacheErr != nil {
			return err
		}
		unread, _ := e.cache.SnapshotUnreadCount(ctx)
		fmt.Fprintf(os.Stderr, "server unreachable (%v), showing the last saved list (%d unread)\n", err, unread)
		list = cached
	}

	printNotifications(os.Stdout, list, time.Now())
	return nil
}

// printNotifications writes one line per notification, newest first as
// served, with an unread marker and relative time.
func printNotifications(w io.Writer, list []model.Notification, now time.Time) {
	fmt.Fprintf(w, "Notifications (%d unread)\n", model.CountUnread(list))
	if len(list) == 0 {
		fmt.Fprintln(w, "  No notifications")
		return
	}
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "●"
		}
		title := n.Title()
		if title == "" {
			title = "(no message)"
		}
		fmt.Fprintf(w, "%s %5d  %s  (%s)\n", mark, n.ID, title, panel.RelativeTime(n.CreatedAt, now))
	}
}

func printSyncResult(w io.Writer, res *model.SyncResult) {
	if !res.Success {
		fmt.Fprintf(w, "Sync failed: %s\n", res.Error)
		return
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	fmt.Fprintf(w, "access denied: %d  other: %d  total: %d\n",
		res.AccessDeniedCount, res.OtherNotificationsCount, res.TotalCount)
}

func printSyncHistory(w io.Writer, runs []model.SyncRun) {
	for _, r := range runs {
		who := "self"
		if r.AdminID != 0 {
			who = fmt.Sprintf("admin %d", r.AdminID)
		}
		status := "ok"
		if !r.Result.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "  %s  %-10s %-6s total %d\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), who, status, r.Result.TotalCount)
	}
}
