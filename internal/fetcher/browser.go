package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// BrowserFetcher implements Fetcher with one headless Chromium tab driven by
// Rod. The tab is reused for every link, like a single WebDriver session.
type BrowserFetcher struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cfg      *config.FetcherConfig
	logger   *slog.Logger
}

// processKiller stops a launched browser process.
type processKiller interface {
	Kill()
}

// NewBrowserFetcher launches a browser and opens the working tab.
func NewBrowserFetcher(cfg *config.FetcherConfig, logger *slog.Logger) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:    cfg,
		logger: logger.With("component", "browser_fetcher"),
	}

	l := bf.newLauncher()
	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	bf.launcher = l

	browser, err := connectBrowser(launchURL, l)
	if err != nil {
		return nil, err
	}
	bf.browser = browser

	page, err := bf.openPage()
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	bf.page = page

	bf.logger.Info("browser fetcher ready",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"page_timeout", cfg.PageTimeout,
	)
	return bf, nil
}

// connectBrowser attaches to the browser at controlURL. The process behind
// proc is killed when the connection cannot be made.
func connectBrowser(controlURL string, proc processKiller) (*rod.Browser, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		proc.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return browser, nil
}

// newLauncher configures a Chromium launch with appropriate flags.
func (bf *BrowserFetcher) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(bf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("no-first-run").
		Set("disable-blink-features", "AutomationControlled")

	if bf.cfg.BrowserBin != "" {
		l = l.Bin(bf.cfg.BrowserBin)
	}
	if bf.cfg.UserDataDir != "" {
		l = l.UserDataDir(bf.cfg.UserDataDir)
	}
	return l
}

func (bf *BrowserFetcher) openPage() (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if bf.cfg.Stealth {
		page, err = stealth.Page(bf.browser)
	} else {
		page, err = bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, err
	}

	if bf.cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: bf.cfg.UserAgent})
		if err != nil {
			bf.logger.Warn("failed to set user agent", "error", err)
		}
	}
	return page, nil
}

// Fetch navigates the tab to link and returns the rendered page.
func (bf *BrowserFetcher) Fetch(ctx context.Context, link string) (*types.Response, error) {
	start := time.Now()

	p := bf.page.Context(ctx).Timeout(bf.cfg.PageTimeout)
	defer p.CancelTimeout()

	if err := p.Navigate(link); err != nil {
		return nil, bf.fetchError(ctx, link, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, bf.fetchError(ctx, link, err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, bf.fetchError(ctx, link, err)
	}

	finalURL := link
	if info, err := p.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	bf.logger.Debug("browser fetch complete",
		"url", link,
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)

	// Rod does not expose the document status code.
	return types.NewResponse(link, finalURL, 200, []byte(html), duration), nil
}

// fetchError classifies a navigation failure. Cancellation of the parent
// context is returned as-is so callers can stop cleanly.
func (bf *BrowserFetcher) fetchError(ctx context.Context, link string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &types.FetchError{URL: link, Timeout: isTimeoutErr(err), Err: err}
}

// Close shuts down the browser and releases resources.
func (bf *BrowserFetcher) Close() error {
	if bf.page != nil {
		_ = bf.page.Close()
	}
	var err error
	if bf.browser != nil {
		err = bf.browser.Close()
		bf.logger.Info("browser closed")
	}
	if bf.launcher != nil {
		bf.launcher.Kill()
	}
	return err
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}
