package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/rccal/pkg/config"
	"github.com/charlie0129/rccal/pkg/display"
	"github.com/charlie0129/rccal/pkg/events"
	"github.com/charlie0129/rccal/pkg/types"
)

var (
	conf   config.Config
	bench  *Bench
	sseHub = events.NewEventHub()
	screen display.Display = &display.Terminal{W: os.Stderr}
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.PUT("/config", putConfig)
	router.GET("/status", getStatus)
	router.POST("/calibration/min-error", postMinError)
	router.POST("/calibration/bounded", postBounded)
	router.POST("/lsi", postLSI)
	router.POST("/watchdog", postWatchdog)
	router.GET("/events", getEvents)
	router.GET("/version", getVersion)

	return router
}

// Options configures Run.
type Options struct {
	ConfigPath     string
	UnixSocketPath string
	// AllowNonRoot opens the socket to every user regardless of the config.
	AllowNonRoot bool
	Bench        BenchOptions
}

func Run(opts Options) error {
	configPath, unixSocketPath := opts.ConfigPath, opts.UnixSocketPath

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	if f, ok := conf.(*config.File); ok {
		logrus.WithFields(f.LogrusFields()).Info("config loaded")
	}

	benchOpts, err := opts.Bench.resolve(conf)
	if err != nil {
		return err
	}
	bench, err = openBench(conf, benchOpts)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open bench")
	}
	defer func() {
		logrus.Info("closing bench")
		if err := bench.Close(); err != nil {
			logrus.Errorf("failed to close bench: %v", err)
		}
	}()
	updateStatus(func(s *types.Status) { s.Backend = benchOpts.Backend })

	// A stale socket from a crashed daemon blocks Listen.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		if err := os.Chmod(unixSocketPath, 0777); err != nil {
			return pkgerrors.Wrapf(err, "failed to chmod %s", unixSocketPath)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Requests inherit ctx so event streams and running calibrations end on
	// shutdown.
	srv := &http.Server{
		Handler:     setupRoutes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return bench.Run(ctx)
	})

	// Receive SIGHUP to reload config
	g.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		defer signal.Stop(sigc)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigc:
				if err := conf.Load(); err != nil {
					logrus.Errorf("failed to reload config: %v", err)
					continue
				}
				logrus.Info("config reloaded")
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("failed to shutdown http server: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logrus.Info("exiting")
	return err
}
