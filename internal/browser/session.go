// Package browser runs a headless Chrome session per extraction attempt and
// records the page's console output and outbound requests.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options configures a browser launch.
type Options struct {
	ExecPath  string
	Headless  bool
	Width     int
	Height    int
	UserAgent string
}

// Request is an outbound network request observed by the page.
type Request struct {
	ID     string
	URL    string
	Method string
	Header http.Header
}

// Session owns one browser process. Close must be called on every path; it
// is safe to call more than once.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         *zap.Logger

	mu       sync.Mutex
	console  []string
	requests []Request
	index    map[string]int
	closed   bool
}

// Launch starts a browser bound to ctx. Cancelling ctx tears the browser down.
func Launch(ctx context.Context, opts Options, log *zap.Logger) (*Session, error) {
	if opts.Width == 0 {
		opts.Width = 1920
	}
	if opts.Height == 0 {
		opts.Height = 1080
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	bctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		log:         log.With(zap.String("component", "browser")),
		index:       make(map[string]int),
	}
	chromedp.ListenTarget(bctx, s.onEvent)

	if err := chromedp.Run(bctx, network.Enable(), runtime.Enable()); err != nil {
		s.Close()
		return nil, eris.Wrap(err, "browser: launch")
	}
	return s, nil
}

func (s *Session) onEvent(ev any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if arg.Value != nil {
				parts = append(parts, string(arg.Value))
			} else {
				parts = append(parts, arg.Description)
			}
		}
		s.console = append(s.console, fmt.Sprintf("[%s] %s", e.Type, strings.Join(parts, " ")))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			s.console = append(s.console, "[exception] "+e.ExceptionDetails.Text)
		}
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		s.index[string(e.RequestID)] = len(s.requests)
		s.requests = append(s.requests, Request{
			ID:     string(e.RequestID),
			URL:    e.Request.URL,
			Method: e.Request.Method,
			Header: toHeader(e.Request.Headers),
		})
	case *network.EventRequestWillBeSentExtraInfo:
		// Extra info carries the headers actually sent, including auth
		// headers added outside the page script.
		if i, ok := s.index[string(e.RequestID)]; ok {
			for k, vs := range toHeader(e.Headers) {
				s.requests[i].Header[k] = vs
			}
		}
	}
}

func toHeader(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, fmt.Sprint(v))
	}
	return out
}

// Navigate loads url, giving up after timeout.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return eris.Wrapf(chromedp.Run(ctx, chromedp.Navigate(url)), "browser: navigate %s", url)
}

// WaitReady waits up to timeout for selector to be present in the DOM.
func (s *Session) WaitReady(selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// Eval runs a JavaScript expression and decodes its result into out.
func (s *Session) Eval(expr string, out any) error {
	return eris.Wrap(chromedp.Run(s.ctx, chromedp.Evaluate(expr, out)), "browser: evaluate")
}

// Key dispatches a key press to the focused element.
func (s *Session) Key(key string) error {
	return eris.Wrap(chromedp.Run(s.ctx, chromedp.KeyEvent(key)), "browser: key event")
}

// Sleep pauses for d or until the session ends.
func (s *Session) Sleep(d time.Duration) error {
	return chromedp.Run(s.ctx, chromedp.Sleep(d))
}

// ConsoleLog returns the console messages captured so far.
func (s *Session) ConsoleLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.console...)
}

// Requests returns the outbound requests captured so far.
func (s *Session) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	for i, r := range s.requests {
		r.Header = r.Header.Clone()
		out[i] = r
	}
	return out
}

// Close shuts the browser down and releases the allocator.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("browser close", zap.Error(err))
	}
	s.cancel()
	s.allocCancel()
}
