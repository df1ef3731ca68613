package server

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/annotree/config"
	"github.com/mohammad-safakhou/annotree/internal/artifact"
	"github.com/mohammad-safakhou/annotree/internal/convert"
	"github.com/mohammad-safakhou/annotree/internal/fetch"
	"github.com/mohammad-safakhou/annotree/internal/lock"
	"github.com/mohammad-safakhou/annotree/internal/runtime"
	"github.com/mohammad-safakhou/annotree/internal/session"
)

// Deps are the shared dependencies built from config.
type Deps struct {
	Sessions *session.Manager
	Metrics  *runtime.Metrics
	close    []func()
}

// Close releases connections opened by BuildDeps.
func (d *Deps) Close() {
	for i := len(d.close) - 1; i >= 0; i-- {
		d.close[i]()
	}
}

// Option adjusts how BuildDeps wires the service.
type Option func(*buildOptions)

type buildOptions struct {
	allowLocal bool
}

// AllowLocalFiles lets documents be loaded from file:// URLs and bare paths.
// Only local callers such as the CLI may use it.
func AllowLocalFiles() Option {
	return func(o *buildOptions) { o.allowLocal = true }
}

// BuildDeps wires the session manager and its collaborators from cfg.
// Documents are fetched over http(s) only unless AllowLocalFiles is given.
func BuildDeps(ctx context.Context, cfg *config.Config, opts ...Option) (*Deps, error) {
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}
	d := &Deps{}
	if cfg.Telemetry.Enabled {
		d.Metrics = runtime.NewMetrics()
	}
	store, err := artifact.NewStore(cfg.Storage.ResultDir, cfg.Storage.TmpDir)
	if err != nil {
		return nil, err
	}
	conv, err := convert.New(cfg.Converter.Kind, convert.Options{LineTolerance: cfg.Converter.LineTolerance})
	if err != nil {
		return nil, err
	}
	fetcher := fetch.NewClient(fetch.Options{
		Timeout:            cfg.Fetch.Timeout,
		Retries:            cfg.Fetch.Retries,
		Backoff:            cfg.Fetch.Backoff,
		MaxBytes:           cfg.Fetch.MaxBytes,
		InsecureSkipVerify: cfg.Fetch.InsecureSkipVerify,
		AllowLocal:         bo.allowLocal,
	})

	var locker lock.Locker = lock.NewMemory()
	if cfg.Session.Lock == config.LockRedis {
		r := cfg.Storage.Redis
		client, err := lock.Conn(ctx, r.Host, r.Port, r.Password, r.DB, r.Timeout)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.close = append(d.close, func() { _ = client.Close() })
		locker = lock.NewRedis(client, log.New(log.Writer(), "[LOCK] ", log.LstdFlags))
	}

	d.Sessions, err = session.NewManager(session.Options{
		Fetcher:   fetcher,
		Converter: conv,
		Store:     store,
		Locker:    locker,
		Metrics:   d.Metrics,
		Logger:    log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
		TTL:       cfg.Session.TTL,
		Debug:     cfg.General.Verbose(),
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}
