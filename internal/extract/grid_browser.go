package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/browser"
)

const (
	gridSelector     = "[role='grid']"
	scrollerSelector = ".MuiDataGrid-virtualScroller"
)

// BrowserGridOptions configures the headless grid driver.
type BrowserGridOptions struct {
	Browser       browser.Options
	RenderTimeout time.Duration
	SettleDelay   time.Duration
}

// BrowserGridFactory launches a headless browser per extraction attempt.
func BrowserGridFactory(opts BrowserGridOptions, log *zap.Logger) DriverFactory {
	return func(ctx context.Context) (GridDriver, error) {
		s, err := browser.Launch(ctx, opts.Browser, log)
		if err != nil {
			return nil, err
		}
		return &browserGrid{s: s, opts: opts}, nil
	}
}

type browserGrid struct {
	s    *browser.Session
	opts BrowserGridOptions
}

func (b *browserGrid) Open(_ context.Context, pageURL string) error {
	if err := b.s.Navigate(pageURL, b.opts.RenderTimeout); err != nil {
		return err
	}
	if err := b.s.WaitReady(gridSelector, b.opts.RenderTimeout); err != nil {
		return &RenderTimeoutError{Selector: gridSelector, Timeout: b.opts.RenderTimeout, Err: err}
	}
	if err := b.s.Sleep(b.opts.SettleDelay); err != nil {
		return eris.Wrap(err, "grid: settle")
	}
	if err := b.s.WaitReady(scrollerSelector, b.opts.RenderTimeout); err != nil {
		return &RenderTimeoutError{Selector: scrollerSelector, Timeout: b.opts.RenderTimeout, Err: err}
	}
	return nil
}

func (b *browserGrid) RowCount(_ context.Context) (int, bool, error) {
	var n int
	expr := fmt.Sprintf(`(() => {
		const v = document.querySelector(%q)?.getAttribute('aria-rowcount');
		return /^\d+$/.test(v || '') ? parseInt(v, 10) : 0;
	})()`, gridSelector)
	if err := b.s.Eval(expr, &n); err != nil {
		return 0, false, err
	}
	return n, n > 0, nil
}

func (b *browserGrid) Headers(_ context.Context) ([]string, error) {
	var headers []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(h => h.innerText.trim())`,
		gridSelector+" [role='columnheader']")
	err := b.s.Eval(expr, &headers)
	return headers, err
}

func (b *browserGrid) ScrollPage(ctx context.Context) error {
	return b.PressKey(ctx, KeyPageDown)
}

func (b *browserGrid) VisibleRows(_ context.Context) ([]GridRow, error) {
	var raw []struct {
		Index  string   `json:"index"`
		Header bool     `json:"header"`
		Cells  []string `json:"cells"`
	}
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(r => ({
		index: r.getAttribute('data-rowindex') || '',
		header: (r.className || '').toString().toLowerCase().includes('headerrow'),
		cells: Array.from(r.querySelectorAll("[role='cell']")).map(c => c.innerText.trim()),
	}))`, gridSelector+" [role='row'][data-rowindex]")
	if err := b.s.Eval(expr, &raw); err != nil {
		return nil, err
	}
	rows := make([]GridRow, len(raw))
	for i, r := range raw {
		rows[i] = GridRow{Index: r.Index, Header: r.Header, Cells: r.Cells}
	}
	return rows, nil
}

func (b *browserGrid) JumpTo(_ context.Context, fraction float64) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.scrollTop = el.scrollHeight * %f;
		return true;
	})()`, scrollerSelector, fraction)
	if err := b.s.Eval(expr, &ok); err != nil {
		return err
	}
	if !ok {
		return eris.New("grid: scroller not found")
	}
	return nil
}

func (b *browserGrid) PressKey(_ context.Context, key NavKey) error {
	// Keyboard events go to the focused element, so focus the scroller first.
	var focused bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (!el.hasAttribute('tabindex')) el.setAttribute('tabindex', '-1');
		el.focus();
		return true;
	})()`, scrollerSelector)
	if err := b.s.Eval(expr, &focused); err != nil {
		return err
	}
	if !focused {
		return eris.New("grid: scroller not found")
	}
	switch key {
	case KeyEnd:
		return b.s.Key(kb.End)
	case KeyPageDown:
		return b.s.Key(kb.PageDown)
	default:
		return b.s.Key(strings.Repeat(kb.ArrowDown, 10))
	}
}

func (b *browserGrid) ConsoleLog() []string { return b.s.ConsoleLog() }

func (b *browserGrid) Close() { b.s.Close() }
