// Package fallback chains two session openers: the primary session is tried
// first and the secondary one is only opened when the primary document does
// not contain the requested fragment.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Opener implements harvest.SessionOpener.
type Opener struct {
	primary   harvest.SessionOpener
	secondary harvest.SessionOpener
	logger    *zap.Logger
}

var _ harvest.SessionOpener = (*Opener)(nil)

// New chains primary and secondary.
func New(primary, secondary harvest.SessionOpener, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{primary: primary, secondary: secondary, logger: logger}
}

// Open opens the primary session. The secondary one is opened on demand.
func (o *Opener) Open(ctx context.Context) (harvest.Session, error) {
	s, err := o.primary.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &session{opener: o, primary: s}, nil
}

type session struct {
	opener    *Opener
	primary   harvest.Session
	secondary harvest.Session
}

func (s *session) Extract(ctx context.Context, url string, rule harvest.Rule) (harvest.Page, error) {
	page, err := s.primary.Extract(ctx, url, rule)
	if err == nil || !errors.Is(err, harvest.ErrFragmentMissing) {
		return page, err
	}
	s.opener.logger.Debug("fragment missing from static document, rendering",
		zap.String("url", url),
		zap.String("rule", rule.String()),
	)
	if s.secondary == nil {
		s.secondary, err = s.opener.secondary.Open(ctx)
		if err != nil {
			return harvest.Page{}, fmt.Errorf("open fallback session: %w", err)
		}
	}
	return s.secondary.Extract(ctx, url, rule)
}

func (s *session) Close() error {
	var errs []error
	if err := s.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.secondary != nil {
		if err := s.secondary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
