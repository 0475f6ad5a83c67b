package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nhle/access-console/internal/api"
	"github.com/nhle/access-console/internal/credential"
	"github.com/nhle/access-console/internal/logging"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/notification"
	"github.com/nhle/access-console/internal/realtime"
	"github.com/nhle/access-console/internal/store"
)

const usage = `Usage: access-console [command] [flags]

Commands:
  panel              open the notification panel (default)
  login              store an access token
  logout             remove the stored session
  sync [--admin ID]  backfill access-denied notifications
  debug [--user ID]  print the server's notification diagnostics
  list               print notifications (the offline snapshot when the server is unreachable)

Global flags:
`

// env holds the services shared by every command.
type env struct {
	cfg     *model.AppConfig
	cfgPath string
	logger  zerolog.Logger
	tokens  *credential.Tokens
	client  *api.Client
	cache   store.Store
	closers []io.Closer
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	name := "panel"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	fs := pflag.NewFlagSet("access-console "+name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	cfgPath := fs.String("config", model.DefaultConfigPath(), "configuration file")
	model.RegisterFlags(fs)

	var (
		adminID int
		userID  int
	)
	switch name {
	case "sync":
		fs.IntVar(&adminID, "admin", 0, "backfill for this administrator instead of the signed-in user")
	case "debug":
		fs.IntVar(&userID, "user", 0, "user id (defaults to the signed-in user)")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(*cfgPath, fs, name == "panel")
	if err != nil {
		return err
	}
	defer e.close()

	switch name {
	case "panel":
		return runPanel(ctx, e)
	case "login":
		return runLogin(e)
	case "logout":
		return runLogout(ctx, e)
	case "sync":
		return runSync(ctx, e, adminID)
	case "debug":
		return runDebug(ctx, e, userID)
	case "list":
		return runList(ctx, e)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
}

// setup loads the configuration and opens the logger, keyring and cache.
// The panel logs to a file so the terminal stays clean.
func setup(cfgPath string, fs *pflag.FlagSet, logToFile bool) (*env, error) {
	cfg, err := model.LoadConfig(cfgPath, fs)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.Setup(cfg.Log, logToFile)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, cfgPath: cfgPath, logger: logger, closers: []io.Closer{logCloser}}

	ring, err := credential.OpenKeyring(model.ConfigDir())
	if err != nil {
		e.close()
		return nil, err
	}
	e.tokens = credential.NewTokens(ring)
	e.client = api.NewClient(cfg.Server.BaseURL, e.tokens, cfg.Server.RequestTimeout)

	cache, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Cache.Path).Msg("offline snapshot disabled")
	} else {
		e.cache = cache
		e.closers = append(e.closers, cache)
	}

	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

// newRealtime builds the realtime manager from the configuration.
func (e *env) newRealtime() *realtime.Manager {
	rc := e.cfg.Realtime
	return realtime.NewManager(realtime.Options{
		URL:                  e.cfg.RealtimeURL(),
		MaxReconnectAttempts: rc.MaxReconnectAttempts,
		ReconnectDelay:       rc.ReconnectDelay,
		ForceReconnectDelay:  rc.ForceReconnectDelay,
		Logger:               e.logger,
	})
}

// newStore builds the notification store. A nil toaster logs toasts.
func (e *env) newStore(rt notification.Realtime, toaster notification.Toaster) *notification.Store {
	opts := notification.Options{
		InitialDelay:       e.cfg.Store.InitialDelay,
		SettleDelay:        e.cfg.Store.SettleDelay,
		SafetyRefetchDelay: e.cfg.Store.SafetyRefetchDelay,
		Toaster:            toaster,
		Logger:             e.logger,
	}
	if e.cache != nil {
		opts.Cache = e.cache
	}
	return notification.NewStore(e.client, rt, e.tokens, opts)
}
