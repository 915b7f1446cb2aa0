// Command freedmd is a thin composition example wiring the daemon's
// building blocks together from a YAML bootstrap config: it registers
// data stores with a Data Manager, opens the configured transport
// endpoints, and serves until an interrupt or terminate signal arrives.
// It is not a CLI front-end — flags are limited to the config path and
// nothing else.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freedm/core/pkg/daemonconfig"
	"github.com/freedm/core/pkg/datamanager"
	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/metrics"
	"github.com/freedm/core/pkg/model"
	"github.com/freedm/core/pkg/store"
	"github.com/freedm/core/pkg/store/boltstore"
	"github.com/freedm/core/pkg/store/inistore"
	"github.com/freedm/core/pkg/store/memstore"
	"github.com/freedm/core/pkg/store/sqlstore"
	"github.com/freedm/core/pkg/transport"
	"github.com/freedm/core/pkg/transport/server"
)

func main() {
	configPath := flag.String("config", "/etc/freedm/daemon.yaml", "path to the daemon bootstrap config")
	flag.Parse()

	cfg, err := daemonconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "freedmd: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("freedmd")

	dm := datamanager.New("/var/lib/freedm")
	if err := bootstrapStores(dm, cfg.Stores); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap data stores")
	}
	metrics.RegisterComponent("store", true, "")

	servers, namedPools, err := bootstrapEndpoints(cfg.Endpoints)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap transport endpoints")
	}
	metrics.RegisterComponent("transport", true, "")
	metrics.RegisterComponent("api", true, "")

	collector := metrics.NewCollector(namedPools...)
	collector.Start()
	defer collector.Stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, len(servers))
	for _, s := range servers {
		s := s
		go func() {
			if err := s.Serve(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	cancel()
	for _, s := range servers {
		s.Shutdown()
	}
	if err := dm.Release(); err != nil {
		logger.Error().Err(err).Msg("error releasing data stores")
	}
	logger.Info().Msg("shutdown complete")
}

func bootstrapStores(dm *datamanager.Manager, configs []daemonconfig.StoreConfig) error {
	for _, sc := range configs {
		var backend store.Backend
		var err error
		syncParallel := sc.SyncParallel

		switch sc.Backend {
		case daemonconfig.BackendINI:
			backend, err = inistore.New(sc.Path, sc.Filetype)
		case daemonconfig.BackendMemory:
			backend = memstore.New()
		case daemonconfig.BackendSQL:
			backend, err = sqlstore.New(sc.Path)
			syncParallel = false
		case daemonconfig.BackendBolt:
			backend, err = boltstore.New(sc.Path)
			syncParallel = false
		default:
			return fmt.Errorf("store %q: unsupported backend %q", sc.Alias, sc.Backend)
		}
		if err != nil {
			return fmt.Errorf("store %q: %w", sc.Alias, err)
		}

		registry := model.Global()
		if sc.ModelFile != "" {
			if err := registry.LoadYAMLFile(sc.Alias, sc.ModelFile); err != nil {
				return fmt.Errorf("store %q: %w", sc.Alias, err)
			}
		}

		s := store.New(store.Config{
			Name:               sc.Alias,
			Alias:              sc.Alias,
			Persistent:         sc.Persistent,
			Writable:           sc.Writable,
			Synced:             sc.Synced,
			SyncParallel:       syncParallel,
			SyncMaxConcurrency: sc.SyncMaxConcurrency,
			Registry:           registry,
		}, backend)

		if err := dm.RegisterStore(sc.Alias, s); err != nil {
			return fmt.Errorf("registering store %q: %w", sc.Alias, err)
		}

		if sc.Synced {
			if iniBackend, ok := backend.(*inistore.Store); ok {
				if err := watchINIStore(s, iniBackend); err != nil {
					return fmt.Errorf("store %q: %w", sc.Alias, err)
				}
			}
		}
	}
	return nil
}

// watchINIStore installs a filesystem observer on an INI-backed store's
// directory, keeping loaded domains in sync with the files underneath:
// a modified or newly created domain file is (re)loaded, a deleted one
// is unloaded, and a rename unloads the old domain and loads the new one.
func watchINIStore(s *store.Store, backend *inistore.Store) error {
	return backend.Watch(time.Second,
		func(domain string) { s.LoadDomain(domain) },
		func(domain string) { s.LoadDomain(domain) },
		func(domain string) { s.UnloadDomain(context.Background(), domain, false) },
		func(oldDomain, newDomain string) {
			s.UnloadDomain(context.Background(), oldDomain, false)
			s.LoadDomain(newDomain)
		},
	)
}

func bootstrapEndpoints(configs []daemonconfig.EndpointConfig) ([]*server.Server, []metrics.NamedPool, error) {
	servers := make([]*server.Server, 0, len(configs))
	pools := make([]metrics.NamedPool, 0, len(configs))

	for _, ec := range configs {
		var framing transport.Framing
		switch ec.Framing {
		case daemonconfig.FramingBulk:
			framing = transport.FramingBulk
		case daemonconfig.FramingLine:
			framing = transport.FramingLine
		case daemonconfig.FramingChunked:
			framing = transport.FramingChunked
		}

		tcfg := transport.EndpointConfig{
			Framing:   framing,
			ChunkSize: ec.ChunkSize,
			Limit:     ec.Limit,
		}
		if ec.Separator != "" {
			tcfg.Separator = ec.Separator[0]
		}

		scfg := server.Config{Transport: tcfg, PoolMax: ec.PoolMax}
		if ec.TLS != nil {
			tlsCfg, err := transport.BuildServerTLSConfig(transport.TLSFiles{
				CertFile: ec.TLS.CertFile,
				KeyFile:  ec.TLS.KeyFile,
				CAFile:   ec.TLS.CAFile,
			}, ec.TLS.ClientAuth)
			if err != nil {
				return nil, nil, fmt.Errorf("endpoint %q: %w", ec.Name, err)
			}
			scfg.TLS = tlsCfg
		}

		var srv *server.Server
		var err error
		switch ec.Kind {
		case daemonconfig.EndpointUXD:
			srv, err = server.NewUXD(scfg, ec.Path, ec.UserOnly, ec.GroupOnly)
		case daemonconfig.EndpointTCP:
			srv, err = server.NewTCP(scfg, ec.Host, ec.Port, addressFamily(ec.Family))
		default:
			err = fmt.Errorf("unsupported endpoint kind %q", ec.Kind)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("endpoint %q: %w", ec.Name, err)
		}

		servers = append(servers, srv)
		pools = append(pools, metrics.NamedPool{Name: ec.Name, Pool: srv.Pool()})
	}

	return servers, pools, nil
}

func addressFamily(f daemonconfig.AddressFamily) server.AddressFamily {
	switch f {
	case daemonconfig.AddressIPv4:
		return server.AddressIPv4
	case daemonconfig.AddressIPv6:
		return server.AddressIPv6
	case daemonconfig.AddressDual:
		return server.AddressDual
	default:
		return server.AddressAuto
	}
}
