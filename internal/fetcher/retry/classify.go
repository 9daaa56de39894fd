package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Classify attaches a harvest.ErrorKind to err. Errors that already carry a
// kind are returned unchanged. parent is the context of the whole fetch; a
// deadline on the attempt alone is transient, a dead parent is not.
func Classify(parent context.Context, rawURL string, rule harvest.Rule, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return harvest.Permanent(rawURL, rule, parent.Err())
	}
	if harvest.KindOf(err) != harvest.KindUnknown {
		return err
	}
	if isPermanent(err) {
		return harvest.Permanent(rawURL, rule, err)
	}
	return harvest.Transient(rawURL, rule, err)
}

func isPermanent(err error) bool {
	switch {
	case errors.Is(err, harvest.ErrInvalidRule),
		errors.Is(err, harvest.ErrFragmentMissing),
		errors.Is(err, harvest.ErrEmptyFragment):
		return true
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF):
		return false
	}

	var status *harvest.StatusError
	if errors.As(err, &status) {
		return !status.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return true
	}
	return false
}

// outcome labels an attempt for metrics.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return harvest.KindOf(err).String()
}
