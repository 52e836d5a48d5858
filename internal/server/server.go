// Package server wires the v4, v6, mgmt, and event-sink tasks together:
// it owns the shared atomic reservation index and MAC↔Option82 cache the
// protocol handlers read, and the reload/replace paths that rebuild and
// swap them (spec.md §4.9–§4.12).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/shadowdhcp/shadowdhcpd/internal/agh"
	"github.com/shadowdhcp/shadowdhcpd/internal/config"
	"github.com/shadowdhcp/shadowdhcpd/internal/event"
	"github.com/shadowdhcp/shadowdhcpd/internal/maccache"
	"github.com/shadowdhcp/shadowdhcpd/internal/mgmt"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservfile"
	"github.com/shadowdhcp/shadowdhcpd/internal/v4server"
	"github.com/shadowdhcp/shadowdhcpd/internal/v6server"
)

// macCacheCapacity is the MAC↔Option82 cache's default bound, per
// spec.md §4.5.
const macCacheCapacity = 100_000

// type check
var _ agh.Service = (*Server)(nil)

// Server owns every long-running task this program runs, and the shared
// state (the reservation index's publishing [reservation.Store], the MAC
// cache, the resolved extractor lists) that a reload or mgmt `replace`
// rebuilds atomically.
type Server struct {
	dir    string
	logger *slog.Logger

	store *reservation.Store
	cache *maccache.Cache

	v4h atomic.Pointer[v4server.Handler]
	v6h atomic.Pointer[v6server.Handler]

	// extractors is the most recently resolved set from config.json,
	// reused by [Server.replace] so a `replace` command (which only ever
	// carries reservations, not config) rebuilds the index with the same
	// extractor lists the last full reload used.
	extractorsMu sync.Mutex
	extractors   reservation.Extractors
	resolved     config.ResolvedExtractors
	ids          *config.Ids

	sink    *event.Sink
	mgmtSrv *mgmt.Server
	v4task  *udpTask
	v6task  *udpTask
	watcher *reservfile.Watcher

	sighup chan os.Signal
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the configuration directory at dir, builds the initial
// reservation index, and wires every task, without starting any of them.
func New(dir string, logger *slog.Logger) (s *Server, err error) {
	s = &Server{
		dir:    dir,
		logger: logger,
		cache:  maccache.New(macCacheCapacity),
	}

	idx, snap, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	s.store = reservation.NewStore(idx)
	s.applyConfig(snap)

	s.sink = event.NewSink(snap.Config.EventAddr, logger)
	s.mgmtSrv = mgmt.NewServer(snap.Config.MgmtAddr, mgmt.Handlers{
		Status:  s.status,
		Reload:  s.reload,
		Replace: s.replace,
	}, logger)
	s.v4task = newUDPTask(snap.Config.BindV4, "dhcpv4", s.handleV4, logger)
	s.v6task = newUDPTask(snap.Config.BindV6, "dhcpv6", s.handleV6, logger)

	s.watcher, err = reservfile.NewWatcher(dir)
	if err != nil {
		logger.Warn("starting config file watcher", slogutil.KeyError, err)
		s.watcher = nil
	}

	return s, nil
}

// handleV4 and handleV6 dispatch to the currently published handler, read
// lock-free via the atomic pointers [Server.reload]/[Server.replace] swap.
func (s *Server) handleV4(raw []byte, now time.Time) []byte { return s.v4h.Load().Handle(raw, now) }
func (s *Server) handleV6(raw []byte, now time.Time) []byte { return s.v6h.Load().Handle(raw, now) }

// Start implements the [agh.Service] interface for Server: it starts
// every owned task and wires SIGHUP to the same reload path as the mgmt
// `reload` command, per spec.md §6.
func (s *Server) Start() (err error) {
	for _, svc := range []agh.Service{s.sink, s.mgmtSrv, s.v4task, s.v6task} {
		if err = svc.Start(); err != nil {
			return fmt.Errorf("starting task: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.sighup = make(chan os.Signal, 1)
	signal.Notify(s.sighup, syscall.SIGHUP)

	s.wg.Add(1)
	go s.watchReloadTriggers(ctx)

	return nil
}

// watchReloadTriggers reloads on SIGHUP or a file-watcher signal, and
// sweeps expired MAC cache bindings every 60s, until ctx is canceled.
func (s *Server) watchReloadTriggers(ctx context.Context) {
	defer s.wg.Done()

	var changed <-chan struct{}
	if s.watcher != nil {
		changed = s.watcher.Changed
	}

	sweep := time.NewTicker(60 * time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.cache.Sweep()
		case <-s.sighup:
			if _, err := s.reload(); err != nil {
				s.logger.Error("reloading on SIGHUP", slogutil.KeyError, err)
			}
		case <-changed:
			if _, err := s.reload(); err != nil {
				s.logger.Error("reloading on file change", slogutil.KeyError, err)
			}
		}
	}
}

// Shutdown implements the [agh.Service] interface for Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	signal.Stop(s.sighup)

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	if s.watcher != nil {
		_ = s.watcher.Close()
	}

	var errs []error
	for _, svc := range []agh.Service{s.v4task, s.v6task, s.mgmtSrv, s.sink} {
		if shutdownErr := svc.Shutdown(ctx); shutdownErr != nil {
			errs = append(errs, shutdownErr)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutting down: %v", errs)
	}

	return nil
}

// load reads the configuration directory and builds a fresh index from
// it, logging (but not failing on) any individually-rejected reservation.
func (s *Server) load() (idx *reservation.Index, snap *reservfile.Snapshot, err error) {
	snap, err = reservfile.Load(s.dir)
	if err != nil {
		return nil, nil, err
	}

	for i, rejErr := range snap.Rejected {
		s.logger.Warn("rejected reservation", "index", i, slogutil.KeyError, rejErr)
	}

	resolved, err := config.ResolveExtractors(snap.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving extractors: %w", err)
	}

	ex := reservation.Extractors{Option82: resolved.Option82, Option1837: resolved.Option1837}

	idx, rejected := reservation.Build(snap.Reservations, ex)
	for i, rejErr := range rejected {
		s.logger.Warn("rejected reservation at index build", "index", i, slogutil.KeyError, rejErr)
	}

	s.extractorsMu.Lock()
	s.extractors = ex
	s.resolved = resolved
	s.ids = snap.Ids
	s.extractorsMu.Unlock()

	return idx, snap, nil
}

// applyConfig rebuilds the v4/v6 handler values from snap and publishes
// them atomically, reusing the shared Store and Cache.
func (s *Server) applyConfig(snap *reservfile.Snapshot) {
	s.v4h.Store(&v4server.Handler{
		Store:      s.store,
		Cache:      s.cache,
		Extractors: s.extractors,
		Subnets:    snap.Config.SubnetsV4,
		ServerID:   snap.Ids.V4,
		DNSServers: snap.Config.DNSv4,
		Sink:       s.sink,
		Logger:     s.logger,
	})

	s.v6h.Store(&v6server.Handler{
		Store:                s.store,
		Cache:                s.cache,
		Option1837Extractors: s.resolved.Option1837,
		Option82Extractors:   s.resolved.Option82,
		MACExtractors:        s.resolved.MAC,
		ServerDUID:           snap.Ids.V6,
		Sink:                 s.sink,
		Logger:               s.logger,
	})
}

// reload re-reads the configuration directory and atomically republishes
// the index and handlers, implementing the mgmt `reload` command and the
// SIGHUP signal (spec.md §6).
func (s *Server) reload() (count int, err error) {
	idx, snap, err := s.load()
	if err != nil {
		return 0, err
	}

	s.store.Swap(idx)
	s.applyConfig(snap)

	return idx.Count(), nil
}

// replace decodes reservationsJSON, persists it to reservations.json
// atomically, and republishes the index, implementing the mgmt `replace`
// command (spec.md §6). A failure to persist aborts before any index
// swap is attempted.
func (s *Server) replace(reservationsJSON json.RawMessage) (count int, err error) {
	reservations, rejected, err := reservfile.DecodeReservations(reservationsJSON)
	if err != nil {
		return 0, fmt.Errorf("decoding reservations: %w", err)
	}

	for i, rejErr := range rejected {
		s.logger.Warn("rejected reservation in replace", "index", i, slogutil.KeyError, rejErr)
	}

	if err = reservfile.WriteReservations(s.dir, reservations); err != nil {
		return 0, fmt.Errorf("persisting reservations: %w", err)
	}

	s.extractorsMu.Lock()
	ex := s.extractors
	s.extractorsMu.Unlock()

	idx, buildRejected := reservation.Build(reservations, ex)
	for i, rejErr := range buildRejected {
		s.logger.Warn("rejected reservation at index build", "index", i, slogutil.KeyError, rejErr)
	}

	s.store.Swap(idx)

	return idx.Count(), nil
}

// status returns the current published reservation count, implementing
// the mgmt `status` command.
func (s *Server) status() (count int, err error) {
	return s.store.Load().Count(), nil
}
