package site

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Default browser timings.
const (
	DefaultStepTimeout   = 30 * time.Second
	DefaultSettleTimeout = 5 * time.Second
)

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	Headless      bool
	ExecPath      string
	UserAgent     string
	StepTimeout   time.Duration
	SettleTimeout time.Duration
	Selectors     *Selectors
}

// ChromeLauncher launches chromedp-backed sessions.
type ChromeLauncher struct {
	opts ChromeOptions
}

// NewChromeLauncher creates a launcher, filling unset options with defaults.
func NewChromeLauncher(opts ChromeOptions) *ChromeLauncher {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.Selectors == nil {
		opts.Selectors = DefaultSelectors()
	}
	return &ChromeLauncher{opts: opts}
}

// Launch starts a browser. The browser outlives ctx and is released by Session.Close.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser; it must not carry a timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, &LaunchError{Cause: err}
	}

	return &chromeSession{
		opts:       l.opts,
		sel:        l.opts.Selectors,
		browserCtx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}, nil
}

type chromeSession struct {
	opts       ChromeOptions
	sel        *Selectors
	browserCtx context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// step derives a timed context from target that also ends when caller ends.
func step(caller, target context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(target, timeout)
	stop := context.AfterFunc(caller, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Login(ctx context.Context, creds types.Credentials) error {
	stepCtx, done := step(ctx, s.browserCtx, s.opts.StepTimeout)
	defer done()

	err := chromedp.Run(stepCtx,
		chromedp.Navigate(s.sel.Login.URL),
		chromedp.WaitVisible(s.sel.Login.Username, chromedp.ByQuery),
		chromedp.SendKeys(s.sel.Login.Username, creds.Identity, chromedp.ByQuery),
		chromedp.SendKeys(s.sel.Login.Password, creds.Secret.Reveal(), chromedp.ByQuery),
		chromedp.Click(s.sel.Login.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	return nil
}

func (s *chromeSession) LoginPending(ctx context.Context) (bool, error) {
	stepCtx, done := step(ctx, s.browserCtx, s.opts.StepTimeout)
	defer done()

	var pending bool
	err := chromedp.Run(stepCtx,
		chromedp.Evaluate(querySelectorExists(s.sel.Login.Marker), &pending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check login markers: %w", err)
	}
	return pending, nil
}

func (s *chromeSession) ListingURLs(ctx context.Context, pageURL string) ([]string, error) {
	stepCtx, done := step(ctx, s.browserCtx, s.opts.StepTimeout)
	defer done()

	var html string
	err := chromedp.Run(stepCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitOptional(s.sel.Results.Listing, s.opts.SettleTimeout),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load results page: %w", err)
	}
	return ParseListings(html, pageURL, s.sel)
}

func (s *chromeSession) OpenJob(ctx context.Context, listingURL string) (JobPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	// Create the target without a deadline so the tab survives this call.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	page := &chromeJobPage{session: s, tabCtx: tabCtx, cancel: cancelTab}

	stepCtx, done := step(ctx, tabCtx, s.opts.StepTimeout)
	defer done()
	err := chromedp.Run(stepCtx,
		chromedp.Navigate(listingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitOptional(s.sel.Job.SignalItem, s.opts.SettleTimeout),
	)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to open job page: %w", err)
	}
	return page, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

type chromeJobPage struct {
	session   *chromeSession
	tabCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (p *chromeJobPage) html(ctx context.Context) (string, error) {
	stepCtx, done := step(ctx, p.tabCtx, p.session.opts.StepTimeout)
	defer done()

	var html string
	if err := chromedp.Run(stepCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromeJobPage) Inspect(ctx context.Context) (JobDetail, error) {
	html, err := p.html(ctx)
	if err != nil {
		return JobDetail{}, fmt.Errorf("failed to read job page: %w", err)
	}
	return ParseJobDetail(html, p.session.sel)
}

func (p *chromeJobPage) Apply(ctx context.Context) error {
	stepCtx, done := step(ctx, p.tabCtx, p.session.opts.StepTimeout)
	defer done()

	if err := chromedp.Run(stepCtx, chromedp.Click(p.session.sel.Job.ApplyButton, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click apply: %w", err)
	}
	return nil
}

func (p *chromeJobPage) PollChat(ctx context.Context) (ChatState, error) {
	html, err := p.html(ctx)
	if err != nil {
		return ChatState{}, fmt.Errorf("failed to read chatbot: %w", err)
	}
	return ParseChat(html, p.session.sel)
}

func (p *chromeJobPage) Answer(ctx context.Context, q Question, value string) error {
	stepCtx, done := step(ctx, p.tabCtx, p.session.opts.StepTimeout)
	defer done()

	chat := p.session.sel.Chat
	var actions []chromedp.Action
	switch q.Kind {
	case QuestionChoice:
		actions = append(actions, chromedp.Click(`[id=`+strconv.Quote(value)+`]`, chromedp.ByQuery))
	default:
		actions = append(actions,
			chromedp.Click(chat.TextInput, chromedp.ByQuery),
			chromedp.SendKeys(chat.TextInput, value, chromedp.ByQuery),
		)
	}
	if chat.Send != "" {
		actions = append(actions, chromedp.Click(chat.Send, chromedp.ByQuery, chromedp.NodeVisible))
	}

	if err := chromedp.Run(stepCtx, actions...); err != nil {
		return fmt.Errorf("failed to answer question %s: %w", q.ID, err)
	}
	return nil
}

func (p *chromeJobPage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}

// waitOptional waits up to timeout for selector to become visible and never fails.
func waitOptional(selector string, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if selector == "" {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_ = chromedp.WaitVisible(selector, chromedp.ByQuery).Do(waitCtx)
		return nil
	})
}

func querySelectorExists(selector string) string {
	return `document.querySelector(` + strconv.Quote(selector) + `) !== null`
}
