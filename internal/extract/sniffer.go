package extract

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/browser"
	"github.com/sells-group/wildfire-cli/internal/fetcher"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// ErrNoDataCall is returned when the page never issued a matching request.
var ErrNoDataCall = eris.New("no matching network request observed")

// Bootstrapper loads a page in a browser and returns the outbound request
// log once a request satisfying match has been observed.
type Bootstrapper interface {
	Capture(ctx context.Context, pageURL string, match func(browser.Request) bool) ([]browser.Request, error)
}

// EndpointCache remembers discovered data endpoints by center code. Entries
// are advisory.
type EndpointCache interface {
	Endpoint(ctx context.Context, centerCode string) (string, bool)
	RememberEndpoint(ctx context.Context, centerCode, endpoint string)
}

// SnifferOptions configures the API sniffer.
type SnifferOptions struct {
	BaseURL     string
	HostPattern string
	PathPattern string
}

// APISniffer discovers the grid's backend data call and replays it directly.
type APISniffer struct {
	opts  SnifferOptions
	boot  Bootstrapper
	fetch fetcher.Fetcher
	cache EndpointCache
	log   *zap.Logger
}

// NewAPISniffer creates an APISniffer. cache may be nil.
func NewAPISniffer(opts SnifferOptions, boot Bootstrapper, f fetcher.Fetcher, cache EndpointCache, log *zap.Logger) *APISniffer {
	if opts.HostPattern == "" {
		opts.HostPattern = "execute-api"
	}
	if opts.PathPattern == "" {
		opts.PathPattern = "/centers/"
	}
	return &APISniffer{
		opts:  opts,
		boot:  boot,
		fetch: f,
		cache: cache,
		log:   log.With(zap.String("strategy", "api")),
	}
}

// Name implements Strategy.
func (s *APISniffer) Name() string { return "api" }

func (s *APISniffer) isGateway(r browser.Request) bool {
	u, err := url.Parse(r.URL)
	return err == nil && strings.Contains(u.Host, s.opts.HostPattern)
}

func (s *APISniffer) isDataCall(r browser.Request) bool {
	if !s.isGateway(r) || (r.Method != "" && r.Method != http.MethodGet) {
		return false
	}
	u, _ := url.Parse(r.URL)
	return strings.Contains(u.Path, s.opts.PathPattern)
}

// Extract implements Strategy.
func (s *APISniffer) Extract(ctx context.Context, center model.DispatchCenter) (*Result, error) {
	log := s.log.With(zap.String("center", center.Code))
	pageURL := IncidentsURL(s.opts.BaseURL, center.Code)
	fail := func(op string, err error) error {
		return &ExtractionError{Strategy: s.Name(), Center: center.Code, Op: op, Err: err}
	}

	var reqs []browser.Request
	if cached, ok := s.cachedEndpoint(ctx, center.Code); ok {
		var err error
		reqs, err = s.boot.Capture(ctx, pageURL, s.isGateway)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fail("bootstrap", err)
			}
			log.Info("no gateway call for cached endpoint, rediscovering", zap.Error(err))
		}
		if gw, found := firstMatch(reqs, s.isGateway); found {
			res, err := s.replay(ctx, cached, gw.Header)
			if err == nil {
				log.Debug("replayed cached endpoint", zap.String("endpoint", cached))
				s.remember(ctx, center.Code, cached)
				return res, nil
			}
			log.Info("cached endpoint failed, rediscovering", zap.String("endpoint", cached), zap.Error(err))
		}
	}

	call, found := firstMatch(reqs, s.isDataCall)
	if !found {
		var err error
		reqs, err = s.boot.Capture(ctx, pageURL, s.isDataCall)
		if err != nil {
			return nil, fail("discover", err)
		}
		if call, found = firstMatch(reqs, s.isDataCall); !found {
			return nil, fail("discover", ErrNoDataCall)
		}
	}

	res, err := s.replay(ctx, call.URL, call.Header)
	if err != nil {
		return nil, fail("replay", err)
	}
	s.remember(ctx, center.Code, call.URL)
	log.Info("api extraction finished",
		zap.String("endpoint", call.URL),
		zap.Int("processed", res.Processed),
		zap.Int("expected", res.Expected),
	)
	return res, nil
}

func (s *APISniffer) cachedEndpoint(ctx context.Context, code string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	return s.cache.Endpoint(ctx, code)
}

func (s *APISniffer) remember(ctx context.Context, code, endpoint string) {
	if s.cache != nil {
		s.cache.RememberEndpoint(ctx, code, endpoint)
	}
}

func (s *APISniffer) replay(ctx context.Context, endpoint string, observed http.Header) (*Result, error) {
	body, err := s.fetch.Get(ctx, endpoint, AuthHeaders(observed))
	if err != nil {
		return nil, err
	}
	items, err := DecodeItems(body)
	if err != nil {
		return nil, err
	}

	res := &Result{Strategy: s.Name(), Expected: len(items), Processed: len(items), Reason: APIComplete}
	for i, item := range items {
		row, err := MapItem(item)
		if err != nil {
			res.Processed--
			s.log.Debug("skipping api item", zap.Int("item", i), zap.Error(err))
			continue
		}
		row.RowIndex = i
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// AuthHeaders selects the headers worth forwarding on a replayed call.
func AuthHeaders(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, ":") {
			continue
		}
		switch {
		case lk == "authorization", lk == "accept", lk == "origin", lk == "referer":
		case strings.Contains(lk, "token"), strings.Contains(lk, "auth"), strings.Contains(lk, "key"):
		default:
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

func firstMatch(reqs []browser.Request, match func(browser.Request) bool) (browser.Request, bool) {
	for _, r := range reqs {
		if match(r) {
			return r, true
		}
	}
	return browser.Request{}, false
}

// BrowserBootstrapper captures requests with a real headless browser.
type BrowserBootstrapper struct {
	Options       browser.Options
	RenderTimeout time.Duration
	PollInterval  time.Duration
	Log           *zap.Logger
}

// Capture implements Bootstrapper. The browser is closed before returning.
func (b *BrowserBootstrapper) Capture(ctx context.Context, pageURL string, match func(browser.Request) bool) ([]browser.Request, error) {
	poll := b.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	s, err := browser.Launch(ctx, b.Options, b.Log)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Navigate(pageURL, b.RenderTimeout); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(b.RenderTimeout)
	for {
		reqs := s.Requests()
		if _, ok := firstMatch(reqs, match); ok {
			return reqs, nil
		}
		if time.Now().After(deadline) {
			return reqs, ErrNoDataCall
		}
		if err := s.Sleep(poll); err != nil {
			return nil, err
		}
	}
}
