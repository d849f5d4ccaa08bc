// Package cdp attaches to browser tabs over the Chrome DevTools Protocol and
// feeds their network events into capture.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/proxy_history/internal/capture"
)

// Options configures which tabs are attached.
type Options struct {
	URL            string
	TabURLFilter   string
	ReloadOnAttach bool
}

// Client manages CDP connections to browser tabs.
type Client struct {
	opts        Options
	httpCapture *capture.HTTPCapture
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[target.ID]*TabContext
	tabsMu      sync.RWMutex
	closeOnce   sync.Once
}

type TabContext struct {
	ID     target.ID
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(opts Options, httpCapture *capture.HTTPCapture) *Client {
	return &Client{
		opts:        opts,
		httpCapture: httpCapture,
		tabs:        make(map[target.ID]*TabContext),
	}
}

// Connect attaches to every page target matching the tab filter.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("connecting to chromium", "url", c.opts.URL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.opts.URL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()
	stop := context.AfterFunc(ctx, tempCancel)
	defer stop()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !matchesTabURL(c.opts.TabURLFilter, t.URL) {
			slog.Debug("skipping tab (url filter)", "url", truncateURL(t.URL))
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}

	if attached == 0 {
		return fmt.Errorf("cdp: no tabs match HISTORY_TAB_URL_FILTER=%q", c.opts.TabURLFilter)
	}

	slog.Info("attached to tabs", "count", attached, "tab_url_filter", c.opts.TabURLFilter)
	return nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, URL: url, ctx: tabCtx, cancel: tabCancel}

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("cdp: enable network domain: %w", err)
	}

	c.tabsMu.Lock()
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	slog.Info("attached to tab", "target_id", targetID, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, c.eventHandler(tab))

	if c.opts.ReloadOnAttach {
		reloadCtx, reloadCancel := context.WithTimeout(tabCtx, 30*time.Second)
		defer reloadCancel()
		if err := chromedp.Run(reloadCtx, chromedp.Reload()); err != nil {
			slog.Warn("failed to reload tab (continuing)", "target_id", targetID, "error", err)
		}
	}
	return nil
}

func (c *Client) eventHandler(tab *TabContext) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.httpCapture.OnRequestWillBeSent(e)
		case *network.EventResponseReceived:
			c.httpCapture.OnResponseReceived(e)
		case *network.EventLoadingFinished:
			c.httpCapture.OnLoadingFinished(e, responseBody(tab.ctx, e.RequestID))
		case *network.EventLoadingFailed:
			c.httpCapture.OnLoadingFailed(e)
		case *target.EventDetachedFromTarget:
			c.detach(tab.ID)
		}
	}
}

func responseBody(tabCtx context.Context, id network.RequestID) capture.BodyFunc {
	return func() ([]byte, error) {
		bodyCtx, cancel := context.WithTimeout(tabCtx, 10*time.Second)
		defer cancel()

		var body []byte
		err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		return body, err
	}
}

func (c *Client) detach(id target.ID) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[id]
	delete(c.tabs, id)
	c.tabsMu.Unlock()
	if ok {
		tab.cancel()
		slog.Info("tab detached", "target_id", id)
	}
}

// Close detaches from every tab and releases the allocator.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.tabsMu.Lock()
		for id, tab := range c.tabs {
			tab.cancel()
			delete(c.tabs, id)
		}
		c.tabsMu.Unlock()

		if c.allocCancel != nil {
			c.allocCancel()
		}
		if c.httpCapture != nil {
			c.httpCapture.Close()
		}
		slog.Info("cdp client closed")
	})
	return nil
}

func (c *Client) TabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func matchesTabURL(filter, url string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
