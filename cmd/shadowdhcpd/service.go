package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/kardianos/service"
	"github.com/shadowdhcp/shadowdhcpd/internal/server"
)

const (
	serviceName        = "shadowdhcpd"
	serviceDisplayName = "Shadow DHCP reservation server"
	serviceDescription = "Reservation-only DHCPv4/v6 relay server for ISP deployments"

	// shutdownTimeout bounds how long Shutdown waits for the server's
	// tasks to drain before returning control to the caller.
	shutdownTimeout = 5 * time.Second
)

// program adapts [*server.Server] to the [service.Interface] the
// kardianos/service manager expects, mirroring the donor's own
// install/start/stop/restart/status lifecycle around its own server.
type program struct {
	configDir string
	logger    *slog.Logger

	srv *server.Server
}

// type check
var _ service.Interface = (*program)(nil)

// Start implements the [service.Interface] interface for *program. Start
// must not block; the actual work runs in the background.
func (p *program) Start(_ service.Service) (err error) {
	p.srv, err = server.New(p.configDir, p.logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	if err = p.srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	return nil
}

// Stop implements the [service.Interface] interface for *program.
func (p *program) Stop(_ service.Service) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return p.srv.Shutdown(ctx)
}

// handleServiceControlAction installs, starts, stops, restarts, or
// reports the status of the OS-managed service, per spec.md §6's
// expansion: running as a managed service is an operational convenience
// around the same [server.Server] used in foreground mode.
func handleServiceControlAction(logger *slog.Logger, action, configDir string) {
	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		// The OS launches the installed service with these arguments;
		// "-service run" is what routes that invocation to [s.Run]
		// below instead of back into one of the control actions.
		Arguments: []string{"-config-dir", configDir, "-service", "run"},
	}

	s, err := service.New(&program{configDir: configDir, logger: logger}, svcConfig)
	if err != nil {
		logger.Error("initializing service", slogutil.KeyError, err)
		os.Exit(osutil.ExitCodeFailure)
	}

	if action == "status" {
		status, statusErr := s.Status()
		if statusErr != nil {
			logger.Error("getting service status", slogutil.KeyError, statusErr)
			os.Exit(osutil.ExitCodeFailure)
		}

		logger.Info("service status", "status", serviceStatusString(status))

		return
	}

	if action == "run" {
		if err = s.Run(); err != nil {
			logger.Error("running service", slogutil.KeyError, err)
			os.Exit(osutil.ExitCodeFailure)
		}

		return
	}

	if err = service.Control(s, action); err != nil {
		logger.Error("executing service action", "action", action, slogutil.KeyError, err)
		os.Exit(osutil.ExitCodeFailure)
	}

	logger.Info("service action completed", "action", action)
}

// serviceStatusString renders a [service.Status] the way an operator
// expects to read it on a terminal.
func serviceStatusString(status service.Status) (s string) {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
