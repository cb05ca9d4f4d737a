package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kerf/api"
	"kerf/cam"
	"kerf/config"
	"kerf/driver"
	"kerf/host/serial"
	"kerf/rpc"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file")
	device      = flag.String("device", "", "Serial device path (overrides config)")
	virtual     = flag.Bool("virtual", false, "Use the simulated controller")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	imagesDir   = flag.String("images", "", "Directory of bitmaps referenced by image objects")
	interactive = flag.Bool("console", true, "Read controller commands from stdin")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return err
		}
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *virtual {
		cfg.Simulator.Enabled = true
	}
	if *listen != "" {
		cfg.Server.Addr = *listen
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid logLevel %q: %w", cfg.LogLevel, err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	images := cam.NewBitmapStore()
	if *imagesDir != "" {
		if err := loadImages(images, *imagesDir); err != nil {
			return err
		}
	}

	dispatcher := rpc.NewDispatcher(
		rpc.WithProfile(cfg.Profile),
		rpc.WithDialect(*cfg.Dialect),
		rpc.WithImages(images),
		rpc.WithLogger(log.With("component", "rpc")),
	)
	drv := newDriver(cfg, log.With("component", "driver"))

	e, handlers := api.NewServer(&api.Dependencies{
		Dispatcher: dispatcher,
		Driver:     drv,
		Logger:     log.With("component", "http"),
		Version:    rpc.Version,
	}, cfg.Server.RequestLogging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr, "virtual", cfg.Simulator.Enabled)
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if *interactive {
		g.Go(func() error {
			c := newConsole(drv, handlers.Device.Jobs(), os.Stdin, os.Stdout)
			err := c.run(ctx)
			stop()
			return err
		})
	}

	err := g.Wait()

	if drv.Progress().Active {
		if aerr := drv.Abort(); aerr != nil {
			log.Warn("abort on shutdown failed", "err", aerr)
		}
	}
	handlers.Device.Jobs().Wait()
	if derr := drv.Disconnect(); derr != nil {
		log.Warn("disconnect failed", "err", derr)
	}
	return err
}

// newDriver builds the simulated or serial controller driver
func newDriver(cfg *config.Config, log *slog.Logger) driver.Driver {
	if cfg.Simulator.Enabled {
		return driver.NewVirtual(
			driver.WithLogger(log),
			driver.WithDwellScale(cfg.Simulator.DwellScale),
			driver.WithPollInterval(time.Duration(cfg.Simulator.PollIntervalMs)*time.Millisecond),
		)
	}

	portCfg := serial.FromSettings(cfg.Serial)
	opener := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return serial.Open(portCfg)
	}
	return driver.NewSerial(opener, driver.WithLogger(log))
}

// loadImages registers every decodable file in dir under its file name
func loadImages(store *cam.BitmapStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read images dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := store.PutEncoded(entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}
