// Package collyfetcher opens static HTTP sessions backed by gocolly. The
// document is fetched once per attempt and the fragment is extracted from the
// raw HTML without running scripts.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/extract"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Opener implements harvest.SessionOpener using the Colly collector.
type Opener struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ harvest.SessionOpener = (*Opener)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Opener.
func New(cfg Config, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := &robotsFallbackTransport{base: newHTTPTransport(), logger: logger}
	c.WithTransport(transport)

	return &Opener{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Open clones the base collector. Clones share the transport but nothing
// else, so each attempt starts without cookies or visit history.
func (o *Opener) Open(ctx context.Context) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open static session: %w", err)
	}
	return &session{collector: o.buildCollector()}, nil
}

func (o *Opener) buildCollector() *colly.Collector {
	collector := o.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if o.cfg.UserAgent != "" {
		collector.UserAgent = o.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !o.cfg.RespectRobots
	timeout := o.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(o.transport)
	return collector
}

type session struct {
	collector *colly.Collector
}

type response struct {
	url    string
	status int
	body   []byte
}

// Extract downloads url and locates rule in the raw document.
func (s *session) Extract(ctx context.Context, url string, rule harvest.Rule) (harvest.Page, error) {
	var (
		resp     response
		fetchErr error
	)
	s.collector.Context = ctx
	configureCollectorHooks(s.collector, &resp, &fetchErr)
	if err := runCollector(ctx, s.collector, url, &fetchErr); err != nil {
		return harvest.Page{}, err
	}
	if resp.status >= http.StatusBadRequest {
		return harvest.Page{}, &harvest.StatusError{Code: resp.status}
	}

	doc, err := extract.Parse(resp.body)
	if err != nil {
		return harvest.Page{}, harvest.Transient(url, rule, err)
	}
	fragment, err := doc.Fragment(rule)
	if err != nil {
		return harvest.Page{}, err
	}
	return harvest.Page{URL: resp.url, Title: doc.Title(), Fragment: fragment}, nil
}

func (s *session) Close() error {
	return nil
}

func configureCollectorHooks(hooks collectorHooks, resp *response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*resp = response{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &harvest.StatusError{Code: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		// OnError carries the status; prefer it over Visit's plain text error.
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
