package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/landcover-cli/internal/apperr"
)

// TransientError marks a failure that is safe to retry: a throttled or
// failing archive response, or an attempt that ran out of time.
type TransientError struct {
	Err        error
	StatusCode int // 0 when the failure did not come with an HTTP status
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// transientMessages are lower-cased fragments of errors that surface only
// as text: Go HTTP transport failures and GDAL's curl layer reading remote
// COGs through /vsicurl and /vsis3.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"http response code: 5",
	"http response code: 429",
	"timeout was reached",
	"couldn't resolve host",
}

// IsTransient reports whether err is worth another attempt: an explicit
// TransientError, an ExternalServiceError flagged transient, or a network
// failure (timeouts, resets, DNS). Data-validity errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var ext *apperr.ExternalServiceError
	if errors.As(err, &ext) {
		if ext.Transient {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range transientMessages {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an archive or object store status
// code is worth a retry: request timeouts, throttling and server-side
// failures.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429:
		return true
	default:
		return statusCode >= 500 && statusCode != 501 && statusCode < 600
	}
}
