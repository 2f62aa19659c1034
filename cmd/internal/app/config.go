package app

import (
	"time"

	"github.com/psryland/three-blind-mice/cmd/internal/region"
	"github.com/psryland/three-blind-mice/cmd/internal/render"
)

// NegotiateEndpoint is the token service that hands out channel URLs.
// It is compiled in and never derived from launch input or the environment.
const NegotiateEndpoint = "https://threeblindmice.azurewebsites.net/api/negotiate"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	LogLevel string

	// StatusAddr is the local status/metrics listener; empty disables it.
	StatusAddr string
	// StatusAllowRemote permits a non-loopback StatusAddr.
	StatusAllowRemote bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Identity is this overlay's channel user id; generated when empty.
	Identity string

	FrameRate     int
	OverlayOrigin region.Point

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		LogLevel: EnvString("TBM_LOG_LEVEL", "info"),

		StatusAddr:        EnvStringSet("TBM_STATUS_ADDR", "127.0.0.1:9464"),
		StatusAllowRemote: EnvBool("TBM_STATUS_ALLOW_REMOTE", false),

		ReadHeaderTimeout: EnvDuration("TBM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TBM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TBM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TBM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		Identity: EnvString("TBM_IDENTITY", ""),

		FrameRate: EnvInt("TBM_FRAME_RATE", render.DefaultFrameRate),
		OverlayOrigin: region.Point{
			X: EnvFloat("TBM_OVERLAY_ORIGIN_X", 0),
			Y: EnvFloat("TBM_OVERLAY_ORIGIN_Y", 0),
		},

		HeartbeatInterval: EnvDuration("TBM_HEARTBEAT_INTERVAL", 20*time.Second),
		HeartbeatTimeout:  EnvDuration("TBM_HEARTBEAT_TIMEOUT", 5*time.Second),
	}
}
