package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/psryland/three-blind-mice/cmd/internal/host"
	"github.com/psryland/three-blind-mice/cmd/internal/launch"
	"github.com/psryland/three-blind-mice/cmd/internal/region"
)

// Display is the platform monitor collaborator supplied by the binary.
type Display interface {
	host.MonitorSource
	Primary() region.Region
}

// RunOptions is what the CLI hands to Run.
type RunOptions struct {
	// Launch is the session code or threeblindmice: URI; TBM_SESSION is used when empty.
	Launch string
	// LogLevel overrides TBM_LOG_LEVEL when set.
	LogLevel string
	// Display builds the monitor collaborator once logging is configured.
	Display func(Logger) Display
}

// Run is the CLI entrypoint used by cmd/threeblindmice.
func Run(opts RunOptions) error {
	cfg := LoadConfig()
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	log := NewLogger(cfg.LogLevel)

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	arg := opts.Launch
	if arg == "" {
		arg = EnvString("TBM_SESSION", "")
	}
	if arg == "" {
		return errors.New("no session code: pass <launch> or set TBM_SESSION")
	}
	group, err := launch.Parse(arg)
	if err != nil {
		return err
	}

	appOpts := Options{Group: group}
	if opts.Display != nil {
		d := opts.Display(log)
		appOpts.Monitors = d
		appOpts.DefaultRegion = d.Primary()
	}

	a, err := New(cfg, log, appOpts)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
