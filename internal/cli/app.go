package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ytget/ytfetch/internal/admission"
	"github.com/ytget/ytfetch/internal/batch"
	"github.com/ytget/ytfetch/internal/cleanup"
	"github.com/ytget/ytfetch/internal/config"
	"github.com/ytget/ytfetch/internal/download"
	"github.com/ytget/ytfetch/internal/events"
	"github.com/ytget/ytfetch/internal/metrics"
	"github.com/ytget/ytfetch/internal/platform"
	"github.com/ytget/ytfetch/internal/proxy"
	"github.com/ytget/ytfetch/internal/registry"
	"github.com/ytget/ytfetch/internal/remux"
	"github.com/ytget/ytfetch/internal/server"
)

// App holds the wired engine for one process
type App struct {
	Settings  *config.Settings
	Log       *logrus.Logger
	Metrics   *metrics.Metrics
	Registry  *registry.Registry
	Bus       *events.Bus
	Gate      *admission.Gate
	Downloads *download.Service
	Proxy     *proxy.Service
	Batch     *batch.Coordinator
	Sweeper   *cleanup.Sweeper
	Handler   *server.Handler
}

// NewApp wires every component from settings
func NewApp(settings *config.Settings, log *logrus.Logger) (*App, error) {
	if err := platform.CreateDirectoryIfNotExists(settings.DownloadDir); err != nil {
		return nil, err
	}

	m := metrics.New()
	reg := registry.New()
	bus := events.New(m)
	gate := admission.New(settings.MaxParallelDownloads, m)
	ytdlp := platform.NewYTDLP(log, settings.PageSize)
	lister := platform.NewPlaylistLister()

	downloads := download.NewService(download.Deps{
		Tasks:      reg,
		Gate:       gate,
		Fetcher:    ytdlp,
		Placer:     platform.NewResolver(settings.DownloadDir),
		Optimizer:  remux.NewService(log),
		Bus:        bus,
		Recorder:   m,
		Log:        log,
		StagingDir: filepath.Join(settings.DownloadDir, cleanup.StagingDirName),
	})

	streams := proxy.NewService(proxy.Deps{
		Tasks:            reg,
		Resolver:         ytdlp,
		Client:           &http.Client{Transport: http.DefaultTransport},
		Bus:              bus,
		Recorder:         m,
		Log:              log,
		ProgressInterval: settings.ProxyProgressInterval.Std(),
	})

	coordinator := batch.NewCoordinator(ytdlp, downloads, lister, settings.BatchParallel, log)
	sweeper := cleanup.NewSweeper(settings.DownloadDir, settings.SweepInterval.Std(), settings.MaxFileAge.Std(), m, log)
	sweeper.SetLiveCheck(func(id string) bool {
		_, ok := reg.Get(id)
		return ok
	})

	handler := server.NewHandler(server.Services{
		Describer:   ytdlp,
		Downloads:   downloads,
		Streams:     streams,
		Batches:     coordinator,
		Playlists:   lister,
		Tasks:       reg,
		Events:      bus,
		Metrics:     m.Handler(),
		DownloadDir: settings.DownloadDir,
		CORSOrigin:  settings.CORSOrigin,
		Log:         log,
	})

	return &App{
		Settings:  settings,
		Log:       log,
		Metrics:   m,
		Registry:  reg,
		Bus:       bus,
		Gate:      gate,
		Downloads: downloads,
		Proxy:     streams,
		Batch:     coordinator,
		Sweeper:   sweeper,
		Handler:   handler,
	}, nil
}

// Serve runs the HTTP server and the sweeper until ctx is done, then shuts
// both down within the configured timeout
func (a *App) Serve(ctx context.Context) error {
	if a.Settings.ClearOnStart {
		if err := cleanup.Purge(a.Settings.DownloadDir, a.Log); err != nil {
			a.Log.WithError(err).Warn("startup purge failed")
		}
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go a.Sweeper.Run(sweepCtx)

	srv := server.New(a.Settings.Addr, a.Handler.InitRoutes())
	errCh := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", a.Settings.Addr).Info("http server listening")
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("error server init: %w", err)
	case <-ctx.Done():
		a.Log.Info("shutdown signal received")
	}

	return a.Shutdown(srv, a.Settings.ShutdownTimeout.Std())
}

// Shutdown ends session streams, aborts every live task, stops the HTTP
// server and waits for running downloads
func (a *App) Shutdown(srv *server.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Handler.Close()
	for _, task := range a.Registry.List() {
		a.Registry.MarkAbort(task.ID)
	}

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("forced shutdown: %w", err))
		}
	}
	if err := a.Downloads.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("download shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	a.Log.Info("the server has terminated successfully")
	return nil
}
