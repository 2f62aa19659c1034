package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateSecurityConfig enforces the overlay's startup policy.
//
// - The negotiation endpoint must be https.
// - The status listener stays on loopback unless TBM_STATUS_ALLOW_REMOTE is set.
func ValidateSecurityConfig(cfg Config) error {
	if err := validateNegotiateEndpoint(NegotiateEndpoint); err != nil {
		return err
	}

	if cfg.StatusAddr == "" || cfg.StatusAllowRemote {
		return nil
	}
	host, _, err := net.SplitHostPort(cfg.StatusAddr)
	if err != nil {
		return fmt.Errorf("security policy: bad TBM_STATUS_ADDR %q: %w", cfg.StatusAddr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("security policy: TBM_STATUS_ADDR %q is not loopback (set TBM_STATUS_ALLOW_REMOTE=true to override)", cfg.StatusAddr)
	}
	return nil
}

func validateNegotiateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("security policy: bad negotiate endpoint: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return errors.New("security policy: negotiate endpoint must be an https URL")
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
