package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/models"
)

// Page is the browser surface the provider drives
type Page interface {
	HTML(ctx context.Context) (string, error)
	// Perform replays a candidate; found is false when the locator matches nothing
	Perform(ctx context.Context, candidate models.ActionCandidate) (found bool, err error)
	TargetID() string
	LiveViewURL(ctx context.Context) (string, error)
	Close() error
}

// Session is one Chrome tab owned by a single extraction run
type Session struct {
	browserCtx      context.Context
	cancels         []context.CancelFunc
	liveViewBase    string
	navigateTimeout time.Duration
	logger          arbor.ILogger
}

// Replaced in tests that run without Chrome
var (
	runActions = chromedp.Run
	// newIsolatedTab opens a tab in a fresh browser context; parent must be attached
	newIsolatedTab = func(parent context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewContext(parent, chromedp.WithNewBrowserContext())
	}
)

// NewSession launches Chrome with profileDir, or attaches to config.RemoteURL.
// Remote sessions get their own browser context so users never share cookies.
func NewSession(ctx context.Context, config *common.BrowserConfig, profileDir string, logger arbor.ILogger) (*Session, error) {
	navigateTimeout, err := common.ParseDuration(config.NavigateTimeout, 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid browser.navigate_timeout: %w", err)
	}

	var allocatorCtx context.Context
	var allocatorCancel context.CancelFunc

	// The browser outlives individual calls, so it hangs off Background and is cancelled by Close
	if config.RemoteURL != "" {
		allocatorCtx, allocatorCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", config.Headless),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1440, 1000),
		)
		if config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(config.UserAgent))
		}
		if profileDir != "" {
			opts = append(opts, chromedp.UserDataDir(profileDir))
		}
		allocatorCtx, allocatorCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	s := &Session{
		cancels:         []context.CancelFunc{allocatorCancel},
		liveViewBase:    config.LiveViewBaseURL,
		navigateTimeout: navigateTimeout,
		logger:          logger,
	}

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	s.cancels = append(s.cancels, browserCancel)

	if config.RemoteURL != "" {
		// Connect first; a new browser context needs an attached browser
		if err := start(ctx, browserCtx, browserCancel); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to browser: %w", err)
		}
		var tabCancel context.CancelFunc
		browserCtx, tabCancel = newIsolatedTab(browserCtx)
		s.cancels = append(s.cancels, tabCancel)
	}
	s.browserCtx = browserCtx

	if err := start(ctx, s.browserCtx, s.cancels[len(s.cancels)-1], chromedp.Navigate("about:blank")); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug().
		Str("target_id", s.TargetID()).
		Bool("remote", config.RemoteURL != "").
		Msg("Browser session started")

	return s, nil
}

// start makes the first Run on bound itself. chromedp binds the browser or
// tab to the context of that first Run and tears it down when it is cancelled.
// abort is called if ctx ends first.
func start(ctx, bound context.Context, abort context.CancelFunc, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, abort)
	err := runActions(bound, actions...)
	if !stop() {
		return ctx.Err()
	}
	return err
}

// run executes actions on the tab, aborting when ctx ends without closing the tab
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := runActions(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the body
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if s.navigateTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.navigateTimeout)
		defer cancel()
	}

	if err := s.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

func (s *Session) Perform(ctx context.Context, candidate models.ActionCandidate) (bool, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(candidate.Locator, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("failed to locate %s: %w", candidate.Locator, err)
	}
	if len(nodes) == 0 {
		return false, nil
	}

	node := nodes[0]
	var action chromedp.Action

	switch candidate.Method {
	case "", "click":
		action = chromedp.Tasks{
			chromedp.ScrollIntoView([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID),
			chromedp.MouseClickNode(node),
		}
	case "fill", "type":
		if len(candidate.Arguments) == 0 {
			return true, fmt.Errorf("method %s needs an argument", candidate.Method)
		}
		action = chromedp.SendKeys([]cdp.NodeID{node.NodeID}, candidate.Arguments[0], chromedp.ByNodeID)
	case "press":
		if len(candidate.Arguments) == 0 {
			return true, fmt.Errorf("method press needs a key")
		}
		action = chromedp.KeyEvent(candidate.Arguments[0])
	default:
		return true, fmt.Errorf("unsupported method %q", candidate.Method)
	}

	if err := s.run(ctx, action); err != nil {
		return true, err
	}
	return true, nil
}

// TargetID identifies the tab, used as the job's session id
func (s *Session) TargetID() string {
	c := chromedp.FromContext(s.browserCtx)
	if c == nil || c.Target == nil {
		return ""
	}
	return string(c.Target.TargetID)
}

// LiveViewURL links the DevTools frontend to this tab so a human can sign in.
// Empty when no live view base URL is configured.
func (s *Session) LiveViewURL(ctx context.Context) (string, error) {
	if s.liveViewBase == "" {
		return "", nil
	}

	base, err := url.Parse(s.liveViewBase)
	if err != nil {
		return "", fmt.Errorf("invalid live view base url: %w", err)
	}

	var info *target.Info
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		info, err = target.GetTargetInfo().WithTargetID(target.ID(s.TargetID())).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to get target info: %w", err)
	}

	return fmt.Sprintf("%s://%s/devtools/inspector.html?ws=%s/devtools/page/%s",
		base.Scheme, base.Host, base.Host, info.TargetID), nil
}

// Close closes the tab and, for launched browsers, Chrome itself
func (s *Session) Close() error {
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
	s.cancels = nil
	return nil
}
