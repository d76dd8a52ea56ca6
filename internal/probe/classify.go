package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/vulnverified/probey/internal/engine"
)

// classify maps a request error to an error kind. Timeouts are attributed
// to the phase the request had reached when it failed.
func classify(err error, ph phase) engine.ErrorKind {
	if errors.Is(err, errTooManyRedirects) {
		return engine.KindTooManyRedirects
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return engine.KindConnectTimeout
		}
		return engine.KindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return engine.KindConnectionRefused
	}

	if isTLSError(err) {
		return engine.KindTLS
	}

	if isTimeout(err) {
		switch {
		case !ph.connected:
			return engine.KindConnectTimeout
		case !ph.wrote:
			return engine.KindWriteTimeout
		default:
			return engine.KindReadTimeout
		}
	}

	return engine.KindTransport
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}
	// Handshake failures the tls package reports as plain errors.
	return strings.Contains(err.Error(), "tls: ")
}

// isTimeout walks the whole chain: url.Error.Timeout only inspects its
// direct cause.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(interface{ Timeout() bool }); ok && t.Timeout() {
			return true
		}
	}
	return false
}
