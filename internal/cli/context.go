package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"agentpress/internal/compaction"
	"agentpress/internal/config"
	"agentpress/internal/message"
	"agentpress/internal/metrics"
	"agentpress/internal/provider"
	"agentpress/internal/redisstore"
	"agentpress/internal/runner"
	"agentpress/internal/storage"
	"agentpress/pkg/logger"
)

// Store is the thread store behind every command. Both the SQLite and the
// Redis store implement it.
type Store interface {
	runner.MessageStore
	compaction.SummaryStore

	CreateThread(ctx context.Context, title string, metadata json.RawMessage) (*storage.Thread, error)
	GetThread(ctx context.Context, id string) (*storage.Thread, error)
	ListThreads(ctx context.Context, limit int) ([]*storage.Thread, error)
	DeleteThread(ctx context.Context, id string) error
	ListMessages(ctx context.Context, threadID string) ([]message.Message, error)
	GetMessage(ctx context.Context, id string) (*message.Message, error)
	Close() error
}

var (
	_ Store = (*storage.DB)(nil)
	_ Store = (*redisstore.Store)(nil)
)

// CLIContext carries the loaded configuration and lazily opened resources
// for one command invocation.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	storeOnce sync.Once
	store     Store
	storeErr  error

	counterOnce sync.Once
	counter     compaction.TokenCounter

	metricsOnce   sync.Once
	collector     *metrics.Collector
	metricsServer *http.Server
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// Store opens the configured thread store on first use.
func (c *CLIContext) Store(ctx context.Context) (Store, error) {
	c.storeOnce.Do(func() {
		switch c.Config.Storage.Driver {
		case "redis":
			r := c.Config.Storage.Redis
			c.store, c.storeErr = redisstore.Open(ctx, redisstore.Options{
				Addr:      r.Addr,
				Password:  r.Password,
				DB:        r.DB,
				KeyPrefix: r.KeyPrefix,
			})
		default:
			path := c.Config.Storage.Path
			if path == "" {
				if path, c.storeErr = config.DefaultDataPath(); c.storeErr != nil {
					return
				}
			}
			c.store, c.storeErr = storage.Open(path)
		}
		if c.storeErr == nil {
			c.Log().Debug().Str("driver", c.Config.Storage.Driver).Msg("Thread store opened")
		}
	})
	return c.store, c.storeErr
}

// Provider opens the configured model provider.
func (c *CLIContext) Provider(ctx context.Context) (provider.Provider, error) {
	return provider.Open(ctx, c.Config.Provider.Name)
}

// Counter returns the token counter shared by compression and summaries.
func (c *CLIContext) Counter() compaction.TokenCounter {
	c.counterOnce.Do(func() {
		if c.Config.Context.TokenCounter == "estimate" {
			c.counter = compaction.EstimateCounter{}
			return
		}
		c.counter = compaction.Guard(compaction.NewTiktokenCounter())
	})
	return c.counter
}

// Metrics returns the Prometheus collector and starts the metrics endpoint
// when metrics.listen is set. It returns nil otherwise, which records nothing.
func (c *CLIContext) Metrics() *metrics.Collector {
	c.metricsOnce.Do(func() {
		listen := c.Config.Metrics.Listen
		if listen == "" {
			return
		}

		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(c.Config.Metrics.Namespace, reg)

		ln, err := net.Listen("tcp", listen)
		if err != nil {
			c.Log().Warn().Err(err).Str("listen", listen).Msg("Metrics endpoint disabled")
			return
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		c.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := c.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.Log().Error().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
		c.Log().Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
		c.collector = collector
	})
	return c.collector
}

// Close releases opened resources.
func (c *CLIContext) Close() error {
	var errs []error
	if c.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, c.metricsServer.Shutdown(ctx))
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Log returns the command logger.
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
