package utils

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrNavigation        = errors.New("page navigation failed")          // Wraps the browser error after retries
	ErrDirectDownload    = errors.New("direct download failed")          // Wraps endpoint/transfer errors; routing signal, never terminal
	ErrNoDownloadControl = errors.New("no download control found")       // Neither slow/free nor manual affordance visible
	ErrNoConfirmControl  = errors.New("confirmation control not found")  // Manual clicked but slow/free never appeared
	ErrVerification      = errors.New("download verification ambiguous") // Signal not detected or suspicious filename
	ErrDiagnostics       = errors.New("diagnostic capture failed")       // Best-effort artifact write failed
	ErrFilesystem        = errors.New("filesystem error")                // Wraps os errors
	ErrDatabase          = errors.New("database error")                  // Wraps badger errors
	ErrConfigValidation  = errors.New("configuration validation error")
	ErrEndpointPayload   = errors.New("unexpected download URL payload") // Endpoint JSON had no usable URL field
)

// IsCertVerifyError reports whether err stems from TLS certificate
// verification, which selects the one-shot insecure-transport retry on the
// direct download path. Checks typed x509 errors first, then falls back to
// message matching for errors surfaced through url.Error wrapping.
func IsCertVerifyError(err error) bool {
	if err == nil {
		return false
	}
	var unknownAuth x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuth) || errors.As(err, &hostname) || errors.As(err, &invalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "certificate verify failed") ||
		strings.Contains(msg, "self-signed certificate") ||
		strings.Contains(msg, "certificate signed by unknown authority")
}

// CategorizeError maps an error to a diagnostic category string used in
// reason fields and logs.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrNavigation):
		return "Navigation"
	case errors.Is(err, ErrDirectDownload):
		if IsCertVerifyError(err) {
			return "DirectDownload_TLS"
		}
		return "DirectDownload"
	case errors.Is(err, ErrNoDownloadControl):
		return "UI_NoDownloadControl"
	case errors.Is(err, ErrNoConfirmControl):
		return "UI_NoConfirmControl"
	case errors.Is(err, ErrVerification):
		return "Verification_Ambiguous"
	case errors.Is(err, ErrDiagnostics):
		return "Diagnostics_Capture"
	case errors.Is(err, ErrEndpointPayload):
		return "DirectDownload_Payload"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	// Network errors not wrapped by a sentinel
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerMsg := strings.ToLower(err.Error())
	switch {
	case IsCertVerifyError(err):
		return "Network_TLS"
	case strings.Contains(lowerMsg, "timeout"), strings.Contains(lowerMsg, "deadline exceeded"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
