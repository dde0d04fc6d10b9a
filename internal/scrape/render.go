package scrape

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderConfig controls the headless-browser fallback fetcher.
type RenderConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// NewChromeRenderer returns a renderFunc backed by a headless Chrome
// instance. Each call runs in its own browser context so a wedged page
// cannot poison later fetches. Returns nil when rendering is disabled.
func NewChromeRenderer(config RenderConfig) renderFunc {
	if !config.Enabled {
		return nil
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // container environments
		chromedp.UserAgent(vaultUserAgent),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)

	return func(ctx context.Context, url string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		defer cancelAlloc()

		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		defer cancelBrowser()

		var html string
		err := chromedp.Run(browserCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body"),
			chromedp.OuterHTML("html", &html),
		)
		if err != nil {
			return "", WrapError(KindNetwork, StrategyOpenGraph, url, err)
		}
		return html, nil
	}
}
