// Package security validates agent endpoint URLs before they enter the
// registry, so the orchestrator is not tricked into calling internal
// infrastructure (SSRF) or non-HTTP schemes.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointValidator checks agent endpoint URLs.
type EndpointValidator struct {
	// AllowPrivate permits loopback and private hosts, for development
	// setups where agents run on localhost.
	AllowPrivate bool
}

// NewEndpointValidator creates a validator. allowPrivate should be true
// outside production.
func NewEndpointValidator(allowPrivate bool) *EndpointValidator {
	return &EndpointValidator{AllowPrivate: allowPrivate}
}

// Validate checks scheme and host of an agent endpoint.
func (v *EndpointValidator) Validate(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("endpoint scheme %q is not allowed, use http or https", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("endpoint has no host")
	}
	if v.AllowPrivate {
		return nil
	}

	if strings.EqualFold(hostname, "localhost") || strings.HasSuffix(hostname, ".localhost") {
		return fmt.Errorf("endpoint host %q is blocked", hostname)
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return v.checkIP(ip)
	}
	// Resolve to catch DNS names pointing into internal ranges.
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("endpoint host %q does not resolve: %w", hostname, err)
	}
	for _, ip := range ips {
		if err := v.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP blocks loopback, private, link-local, multicast, and
// unspecified addresses. Link-local covers cloud metadata services.
func (v *EndpointValidator) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("endpoint IP %s is blocked (loopback)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("endpoint IP %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("endpoint IP %s is blocked (link-local)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("endpoint IP %s is blocked (multicast)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("endpoint IP %s is blocked (unspecified)", ip)
	}
	return nil
}
