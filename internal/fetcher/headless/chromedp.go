// Package headless opens browser sessions that execute the page's scripts
// before the fragment is read.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/extract"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless opener.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is slept after the body is ready, for late scripts.
	SettleDelay time.Duration
	// WaitForRule blocks until the rule matches instead of reading the
	// document as soon as the body is ready.
	WaitForRule bool
	ExecPath    string
}

// Opener implements harvest.SessionOpener with headless Chrome. Every session
// starts its own browser process from the shared allocator options, so no
// state survives from one attempt to the next.
type Opener struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

var _ harvest.SessionOpener = (*Opener)(nil)

// NewChromedp creates a headless opener backed by chromedp. No browser is
// started until a session runs.
func NewChromedp(cfg Config, logger *zap.Logger) (*Opener, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Opener{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (o *Opener) Close() {
	o.allocCancel()
}

// Open waits for a free browser slot and prepares a context that launches a
// fresh browser on its first action.
func (o *Opener) Open(ctx context.Context) (harvest.Session, error) {
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	taskCtx, taskCancel := chromedp.NewContext(o.allocator)
	return &session{
		opener:  o,
		taskCtx: taskCtx,
		cancel:  taskCancel,
	}, nil
}

func (o *Opener) acquire(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	select {
	case o.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (o *Opener) release() {
	if o.limiter == nil {
		return
	}
	select {
	case <-o.limiter:
	default:
	}
}

func (o *Opener) navTimeout() time.Duration {
	if o.cfg.NavigationTimeout > 0 {
		return o.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

type session struct {
	opener  *Opener
	taskCtx context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Extract navigates to url, waits for the document and reads rule from the
// rendered DOM.
func (s *session) Extract(ctx context.Context, url string, rule harvest.Rule) (harvest.Page, error) {
	if err := extract.Validate(rule); err != nil {
		return harvest.Page{}, err
	}
	runCtx, cancel := context.WithTimeout(s.taskCtx, s.opener.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	html, title, err := s.run(runCtx, url, rule)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return harvest.Page{}, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			s.opener.logger.Info("navigation timed out",
				zap.String("url", url),
				zap.Duration("timeout", s.opener.navTimeout()),
			)
			return harvest.Page{}, harvest.Transient(url, rule, fmt.Errorf("navigation timeout: %w", context.DeadlineExceeded))
		}
		return harvest.Page{}, err
	}

	status, finalURL := meta.snapshotWithFallbacks(url)
	if status >= http.StatusBadRequest {
		return harvest.Page{}, &harvest.StatusError{Code: status}
	}

	doc, err := extract.Parse([]byte(html))
	if err != nil {
		return harvest.Page{}, err
	}
	fragment, err := doc.Fragment(rule)
	if err != nil {
		return harvest.Page{}, err
	}
	if title == "" {
		title = doc.Title()
	}
	return harvest.Page{URL: finalURL, Title: title, Fragment: fragment}, nil
}

func (s *session) run(ctx context.Context, url string, rule harvest.Rule) (string, string, error) {
	var html, title string
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.opener.cfg.WaitForRule {
		actions = append(actions, chromedp.WaitReady(string(rule), queryOption(rule)))
	}
	if s.opener.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(s.opener.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, title, nil
}

func (s *session) networkSetupAction() chromedp.Action {
	userAgent := s.opener.cfg.UserAgent
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close shuts the session's browser down and frees the slot. It is safe to call
// more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.opener.release()
	})
	return nil
}

func queryOption(rule harvest.Rule) chromedp.QueryOption {
	if rule.IsXPath() {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; iframes report documents too.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, url := m.status, m.url
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
