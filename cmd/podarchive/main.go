package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/podarchive/podarchive/pkg/archiver"
	"github.com/podarchive/podarchive/pkg/config"
	"github.com/podarchive/podarchive/pkg/download"
	"github.com/podarchive/podarchive/pkg/fs"
	"github.com/podarchive/podarchive/pkg/health"
	"github.com/podarchive/podarchive/pkg/media"
	"github.com/podarchive/podarchive/pkg/render"
	"github.com/podarchive/podarchive/pkg/rewrite"
)

type Opts struct {
	ConfigPath  string `long:"config" short:"c" default:"config.toml" env:"PODARCHIVE_CONFIG_PATH"`
	InstanceDir string `long:"instance-dir" default:"." env:"INSTANCE_DIR"`
	Debug       bool   `long:"debug"`
	NoBanner    bool   `long:"no-banner"`
}

const banner = `
                 _                _     _
 _ __   ___   __| | __ _ _ __ ___| |__ (_)_   _____
| '_ \ / _ \ / _' |/ _' | '__/ __| '_ \| \ \ / / _ \
| |_) | (_) | (_| | (_| | | | (__| | | | |\ V /  __/
| .__/ \___/ \__,_|\__,_|_|  \___|_| |_|_| \_/ \___|
|_|
`

// archiveSchedule fires at 20 minutes past each hour, which is late enough
// for hourly upstream publishes to land first.
const archiveSchedule = "20 * * * *"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	// Parse args
	opts := Opts{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if !filepath.IsAbs(opts.ConfigPath) {
		opts.ConfigPath = filepath.Join(opts.InstanceDir, opts.ConfigPath)
	}

	// Load TOML file
	log.Debugf("loading configuration %q", opts.ConfigPath)
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration file")
	}

	setupLogging(cfg.Log, opts.Debug, opts.InstanceDir)

	if !opts.NoBanner {
		log.Info(banner)
	}

	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("running podarchive")

	transcoder, err := media.NewFFmpeg(ctx)
	if err != nil {
		log.WithError(err).Fatal("ffmpeg error")
	}

	webRoot := filepath.Join(opts.InstanceDir, "web")

	storage, err := newStorage(cfg, webRoot)
	if err != nil {
		log.WithError(err).Fatal("failed to set up storage backend")
	}

	index := fs.NewPathIndex()
	registry := health.NewRegistry(version, opts.Debug)

	remote := cfg.App.StorageBackend == config.BackendS3
	downloader := download.New(storage, index, webRoot, remote)
	rewriter := rewrite.New(downloader, transcoder, storage, index, cfg.App.InetPath, remote)

	renderer, err := render.New(storage, index, registry, webRoot)
	if err != nil {
		log.WithError(err).Fatal("failed to create renderer")
	}

	arc := archiver.New(cfg, rewriter, renderer, storage, index, registry, webRoot)

	// Adhoc runs triggered by SIGHUP or /api/reload.
	adhoc := make(chan struct{}, 1)
	requestRun := func() {
		select {
		case adhoc <- struct{}{}:
		default:
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(nil)))
	if _, err := c.AddFunc(archiveSchedule, requestRun); err != nil {
		log.WithError(err).Fatal("failed to create cron task")
	}

	group.Go(func() error {
		defer func() {
			log.Info("shutting down cron")
			c.Stop()
		}()

		c.Start()

		// Started ticks run to completion even while shutting down.
		tickCtx := context.WithoutCancel(ctx)

		// Full run at startup, before the first scheduled tick.
		runTick(tickCtx, arc)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-adhoc:
				runTick(tickCtx, arc)
			}
		}
	})

	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-hup:
				log.Info("received SIGHUP, reloading configuration")
				reloadConfig(arc, registry, opts.ConfigPath)
				requestRun()
			}
		}
	})

	// Run web server
	srv := newServer(cfg, arc, renderer, registry, webRoot, opts.Debug, func() {
		reloadConfig(arc, registry, opts.ConfigPath)
		requestRun()
	})

	group.Go(func() error {
		log.Infof("running listener at %s", srv.Addr)
		return srv.ListenAndServe()
	})

	interrupted := false

	group.Go(func() error {
		// Shutdown web server
		defer func() {
			log.Info("shutting down web server")
			if err := srv.Shutdown(ctx); err != nil {
				log.WithError(err).Error("server shutdown failed")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-stop:
				interrupted = true
				cancel()
				return nil
			}
		}
	})

	if err := group.Wait(); err != nil && (err != context.Canceled && err != http.ErrServerClosed) {
		log.WithError(err).Error("wait error")
		os.Exit(1)
	}

	log.Info("gracefully stopped")

	if interrupted {
		os.Exit(130)
	}
}

func runTick(ctx context.Context, arc *archiver.Archiver) {
	if err := arc.Tick(ctx); err != nil {
		log.WithError(err).Error("archive run finished with errors")
	}
}

func reloadConfig(arc *archiver.Archiver, registry *health.Registry, path string) {
	registry.SetLoadingConfig(true)
	defer registry.SetLoadingConfig(false)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).Error("failed to reload configuration, keeping current one")
		return
	}

	arc.SetConfig(cfg)
	log.Info("configuration reloaded")
}

func newStorage(cfg *config.Config, webRoot string) (fs.Storage, error) {
	switch cfg.App.StorageBackend {
	case config.BackendS3:
		storage, err := fs.NewS3(cfg.App.S3)
		if err != nil {
			return nil, err
		}

		// Repair leftovers from interrupted runs before anything
		// else touches the bucket.
		if err := storage.CheckBucket(context.Background()); err != nil {
			return nil, err
		}

		return storage, nil
	default:
		return fs.NewLocal(webRoot, cfg.App.InetPath)
	}
}

func setupLogging(cfg config.Log, debug bool, instanceDir string) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}

	if cfg.Path == "" {
		return
	}

	path := cfg.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(instanceDir, path)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}))
}
