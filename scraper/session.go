package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/dmaguirre/mercadoscan/config"
)

// Page is one successfully fetched listing page. Retries counts the
// extra attempts spent before this response arrived.
type Page struct {
	StatusCode int
	Body       []byte
	Retries    int
}

// Session issues one request per listing page with bounded retries and a
// browser-like header set. It is stateless across pages apart from
// connection reuse in the shared transport.
type Session struct {
	cfg     *config.Config
	base    *colly.Collector
	metrics *Metrics
}

// NewSession builds a fetch session configured from cfg.
func NewSession(cfg *config.Config, metrics *Metrics) (*Session, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	base := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	base.SetRequestTimeout(cfg.Timeout)
	base.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	base.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Session{cfg: cfg, base: base, metrics: metrics}, nil
}

// WithTransport replaces the HTTP transport used for page fetches.
func (s *Session) WithTransport(rt http.RoundTripper) {
	s.base.WithTransport(rt)
}

// Fetch retrieves one page, retrying transient failures (connection
// errors, timeouts, 500/502/503/504) with exponential backoff up to the
// configured attempt limit. 404 and other statuses surface immediately.
func (s *Session) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	var lastErr error
	delay := s.cfg.RetryBackoff

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			s.metrics.IncRetries()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if max := s.cfg.RetryBackoffMax; max > 0 && delay > max {
				delay = max
			}
		}

		page, err := s.attempt(pageURL)
		if err == nil {
			page.Retries = attempt
			return page, nil
		}
		lastErr = err
		s.metrics.IncError(errorTypeLabel(err))
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt issues a single request on a callback-free clone of the base
// collector. Cloning keeps the shared transport (connection reuse) while
// isolating the response capture of this attempt.
func (s *Session) attempt(pageURL string) (*Page, error) {
	c := s.base.Clone()

	var page *Page
	var fetchErr error
	statusCode := 0

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "es-AR,es;q=0.9,en;q=0.8")
		if s.cfg.Referer != "" {
			r.Headers.Set("Referer", s.cfg.Referer)
		}
		s.metrics.IncRequest("started")
	})
	c.OnResponse(func(r *colly.Response) {
		page = &Page{StatusCode: r.StatusCode, Body: r.Body}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	visitErr := c.Visit(pageURL)
	c.Wait()
	s.metrics.ObserveDuration(time.Since(start))

	if fetchErr != nil {
		return nil, classifyError(fetchErr, statusCode)
	}
	if visitErr != nil {
		return nil, classifyError(visitErr, statusCode)
	}
	if page == nil {
		return nil, ErrConnection{Err: fmt.Errorf("no response for %s", pageURL)}
	}
	return page, nil
}

func classifyError(err error, statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrNotFound{Err: wrapStatus(err, statusCode)}
	case http.StatusForbidden:
		return ErrForbidden{Err: wrapStatus(err, statusCode)}
	case http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapStatus(err, statusCode)}
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ErrServer{StatusCode: statusCode, Err: wrapStatus(err, statusCode)}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}

func wrapStatus(err error, statusCode int) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("http status %d", statusCode)
}
