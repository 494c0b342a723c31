// Package cookiedomain derives the cookie scope for identity cookies from a request host.
package cookiedomain

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/pscheid92/testtrack-client/internal/domain"
	"golang.org/x/net/publicsuffix"
)

// Error reports a host that has no registrable domain.
type Error struct {
	Host string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot derive cookie domain for host %q: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("cannot derive cookie domain for host %q", e.Host)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrDomainResolution}
	}
	return []error{domain.ErrDomainResolution, e.Err}
}

// Resolve returns the cookie domain for host. IP literals are returned as written,
// minus port and brackets; everything else becomes "." + the registrable domain so the cookie covers all subdomains.
func Resolve(host string) (string, error) {
	h := stripPort(strings.TrimSpace(host))

	if literal := strings.TrimSuffix(strings.TrimPrefix(h, "["), "]"); isIPLiteral(literal) {
		return literal, nil
	}

	h = strings.ToLower(strings.TrimSuffix(h, "."))
	if h == "" || strings.ContainsAny(h, " /\\@") {
		return "", &Error{Host: host}
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(h)
	if err != nil {
		return "", &Error{Host: host, Err: err}
	}
	return "." + registrable, nil
}

func isIPLiteral(h string) bool {
	_, err := netip.ParseAddr(h)
	return err == nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
