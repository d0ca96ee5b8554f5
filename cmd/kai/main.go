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
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/kai/internal/app"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/config"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/server"
	"github.com/ayusman/kai/internal/store"
	"github.com/ayusman/kai/internal/tray"
	"golang.org/x/sync/errgroup"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kai: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "kai.yaml", "path to the YAML config file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("starting kai", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kai", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("shutdown metrics", "err", err)
		}
	}()

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	a, err := app.New(app.Config{
		Settings: cfg,
		Store:    st,
		Metrics:  observe.DefaultMetrics(),
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()
	a.Start()

	srvCfg := a.ServerConfig()
	if srvCfg.StaticDir != "" {
		slog.Info("serving pages", "dir", srvCfg.StaticDir)
	} else {
		slog.Warn("no page directory found, serving the API only")
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ListenAddr)
	})

	if cfg.Tray.Enabled {
		t := newTray(a, "http://"+browserAddr(cfg.Server.ListenAddr), stop)
		g.Go(func() error {
			<-gctx.Done()
			t.Quit()
			return nil
		})
		// The tray owns the main thread until it quits
		t.Run()
		stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutting down")
	return nil
}

// newLogger builds the text logger on stderr at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newTray mirrors the practice state in the system tray.
func newTray(a *app.App, url string, quit func()) *tray.Tray {
	t := tray.New()
	ctrl := a.Practice()

	t.OnToggle(func(scanning bool) {
		var err error
		if scanning {
			err = ctrl.StartScan()
		} else {
			_, err = ctrl.StopScan()
		}
		if err != nil {
			slog.Warn("tray toggle", "scanning", scanning, "err", err)
		}
	})
	t.OnOpen(func() {
		if err := openBrowser(url); err != nil {
			slog.Warn("open browser", "url", url, "err", err)
		}
	})
	t.OnQuit(quit)

	updates, _ := ctrl.Subscribe()
	go func() {
		for snap := range updates {
			t.SetScanning(snap.State == practice.StateScanning)
			if snap.Feedback.Verdict != classifier.VerdictPrompt {
				t.SetLastPrediction(snap.Feedback.Label, snap.Feedback.Percent)
			}
		}
	}()
	return t
}

func browserAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
