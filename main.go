// Package main provides the entry point for VPN State.
// VPN State coordinates the state of an IPsec VPN connection negotiated by
// an external daemon: it tracks connection attempts, retries failed ones
// with growing delays and tells interested parties about every change.
//
// Features:
//   - Profile management for multiple VPN gateways
//   - Secure credential storage using the system keyring
//   - Automatic reconnect with exponential backoff
//   - State change signals on the D-Bus session bus and desktop notifications
//   - Transition history in SQLite and an optional binary event trace
//
// Usage:
//
//	vpn-state [options]
//
// Environment:
//
//	Connecting requires strongSwan's charon-cmd, or the daemon named in the
//	configuration file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpn-state/cli"
	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/config"
	"github.com/yllada/vpn-state/daemon"
	"github.com/yllada/vpn-state/dbusnotify"
	"github.com/yllada/vpn-state/eventlog"
	"github.com/yllada/vpn-state/history"
	"github.com/yllada/vpn-state/keyring"
	"github.com/yllada/vpn-state/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Path of the configuration file")

	// Profile flags
	listProfiles = flag.Bool("list", false, "List all VPN profiles")
	addProfile   = flag.String("add-profile", "", "Add a VPN profile with this name")
	gateway      = flag.String("gateway", "", "Gateway of the new profile")
	username     = flag.String("username", "", "User name of the new profile")
	remoteID     = flag.String("remote-id", "", "Remote identity of the new profile")
	savePassword = flag.Bool("save-password", true, "Keep the password of the new profile in the keyring")

	// Connection flags
	connectProfile = flag.String("connect", "", "Connect to a VPN profile by name")
	watchProfile   = flag.String("watch", "", "Connect and show a live status view")
	shellMode      = flag.Bool("shell", false, "Interactive shell that plays the daemon by hand")

	// Audit flags
	historyCount = flag.Int("history", 0, "Show the last N recorded transitions")
	eventsFile   = flag.String("events", "", "Print an event trace file")
)

func main() {
	flag.Parse()

	// Handle help flag
	if *showHelp || flag.NFlag() == 0 {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("VPN State v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	// The event trace can be read without touching anything else
	if *eventsFile != "" {
		if err := cli.PrintEvents(os.Stdout, *eventsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.Level()
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Handle shutdown signals (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		common.LogError("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFrom(*configPath)
	}
	return config.Load()
}

// app holds everything wired for one run.
type app struct {
	cfg      *config.Config
	profiles *vpn.ProfileManager
	creds    *keyring.Store
	service  *vpn.StateService
	history  *history.Store
	closers  []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			common.LogWarn("Shutdown: %v", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return err
	}
	profiles, err := vpn.NewProfileManager(configDir)
	if err != nil {
		return err
	}
	creds, err := keyring.New(keyring.Options{})
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	a := &app{cfg: cfg, profiles: profiles, creds: creds}
	defer a.close()

	switch {
	case *listProfiles:
		return cli.New(cli.Options{Profiles: profiles, Credentials: creds}).ListProfiles()

	case *addProfile != "":
		return cli.New(cli.Options{Profiles: profiles, Credentials: creds}).AddProfile(&vpn.Profile{
			Name:         *addProfile,
			Gateway:      *gateway,
			Username:     *username,
			RemoteID:     *remoteID,
			SavePassword: *savePassword,
		})

	case *historyCount > 0:
		if err := a.openHistory(); err != nil {
			return err
		}
		return cli.New(cli.Options{Profiles: profiles, History: a.history}).History(*historyCount)

	case *shellMode:
		shell := cli.NewShell(profiles)
		if err := a.startService(shell.Daemon(nil)); err != nil {
			return err
		}
		shell.Attach(a.service)
		return a.runGroup(ctx, func(ctx context.Context, cancel context.CancelFunc) error {
			return shell.Run(ctx, cancel)
		})

	case *connectProfile != "" || *watchProfile != "":
		if _, err := exec.LookPath(cfg.Daemon.Command); err != nil {
			return fmt.Errorf("%w: %s is not installed", common.ErrDaemonFailed, cfg.Daemon.Command)
		}
		runner := daemon.NewRunner(daemon.Config{
			Command: cfg.Daemon.Command,
			Args:    cfg.Daemon.Args,
		}, creds, nil)
		runner.SetLogHandler(func(line string) {
			common.LogDebug("charon: %s", line)
		})
		if err := a.startService(runner); err != nil {
			return err
		}
		runner.SetReporter(a.service)
		// the tunnel never outlives the process
		a.closers = append(a.closers, func() error {
			runner.Stop()
			runner.Wait()
			return nil
		})

		c := cli.New(cli.Options{
			Profiles:    profiles,
			Service:     a.service,
			Daemon:      runner,
			Credentials: creds,
			History:     a.history,
		})
		return a.runGroup(ctx, func(ctx context.Context, _ context.CancelFunc) error {
			if *watchProfile != "" {
				return c.Watch(ctx, *watchProfile)
			}
			return c.Connect(ctx, *connectProfile)
		})
	}

	cli.PrintHelp()
	return nil
}

// runGroup runs command until it returns or a signal arrives.
func (a *app) runGroup(ctx context.Context, command func(context.Context, context.CancelFunc) error) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		err := command(runCtx, cancel)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-runCtx.Done()
		if ctx.Err() != nil {
			common.LogInfo("Received signal, initiating graceful shutdown...")
		}
		return nil
	})
	return g.Wait()
}

func (a *app) openHistory() error {
	path, err := common.DataPath(a.cfg.History.Path, common.HistoryFileName)
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// startService creates the state service driving d and attaches the
// configured listeners.
func (a *app) startService(d vpn.Daemon) error {
	table, err := a.cfg.Retry.Table()
	if err != nil {
		return err
	}
	svc := vpn.NewStateService(d, vpn.ServiceConfig{
		RetryTable:      table,
		MaxRetryTimeout: a.cfg.Retry.MaxTimeout,
		Clock:           vpn.SystemClock(),
		Logger:          common.GetLogger(),
	})
	a.service = svc

	if a.cfg.History.Enabled {
		if err := a.openHistory(); err != nil {
			common.LogWarn("History disabled: %v", err)
		} else {
			recorder := history.NewRecorder(a.history, svc, nil)
			svc.RegisterListener(recorder)
			a.closers = append(a.closers, func() error {
				recorder.Flush()
				return nil
			})
		}
	}

	if a.cfg.EventLog.Enabled {
		var sinks []eventlog.Logger
		path, err := common.DataPath(a.cfg.EventLog.Path, common.EventLogFileName)
		if err == nil {
			var file *eventlog.TraceWriter
			if file, err = eventlog.CreateTrace(path); err == nil {
				sinks = append(sinks, file)
				a.closers = append(a.closers, file.Close)
			}
		}
		if err != nil {
			common.LogWarn("Event trace disabled: %v", err)
		}
		if *verbose {
			sinks = append(sinks, eventlog.NewSlogAdapter(slog.Default()))
		}
		if len(sinks) > 0 {
			svc.RegisterListener(eventlog.NewRecorder(svc, eventlog.NewMultiLogger(sinks...)))
		}
	}

	if a.cfg.DBus.Enabled {
		a.attachDBus(svc)
	}

	svc.Start()
	a.closers = append(a.closers, func() error {
		svc.Stop()
		return nil
	})
	return nil
}

func (a *app) attachDBus(svc *vpn.StateService) {
	conn, err := dbusnotify.ConnectSessionBus()
	if err != nil {
		common.LogWarn("D-Bus integration disabled: %v", err)
		return
	}
	a.closers = append(a.closers, conn.Close)

	svc.RegisterListener(dbusnotify.NewPublisher(conn, svc, nil))
	if a.cfg.ShowNotifications {
		alerter := dbusnotify.NewAlerter(dbusnotify.NewDesktop(conn), svc, nil)
		svc.RegisterListener(alerter)
		a.closers = append(a.closers, func() error {
			alerter.Flush()
			return nil
		})
	}
	common.LogDebug("D-Bus: emitting %s on %s", dbusnotify.SignalName, common.DBusObjectPath)
}
