// Package proxy implements the request dispatcher: tiered weighted
// round-robin selection over the registry, forwarding, and bounded failover.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nodefluxio/fremisn-proxy/internal/balancer"
	"github.com/nodefluxio/fremisn-proxy/internal/config"
	"github.com/nodefluxio/fremisn-proxy/internal/metrics"
	"github.com/nodefluxio/fremisn-proxy/internal/registry"
	"github.com/nodefluxio/fremisn-proxy/internal/retry"
)

// Per-backend breaker tuning. The breaker is a fast-path guard in front of
// registry health state, which remains the authority on Up/Down.
const (
	breakerMinRequests  = 5
	breakerFailureRatio = 0.5
	breakerOpenTimeout  = 30 * time.Second
)

// upstreamErrKey carries the per-attempt error slot through the reverse
// proxy's cloned request context into the ErrorHandler.
type upstreamErrKey struct{}

type upstreamError struct {
	err error
}

// errUpstreamAborted marks an upstream that failed after response bytes
// were already relayed. The response is truncated, never replaced.
var errUpstreamAborted = errors.New("upstream aborted mid-response")

// Dispatcher accepts inbound requests, selects a backend, forwards, and
// applies failover. It implements http.Handler.
type Dispatcher struct {
	pool    *registry.Pool
	primary balancer.Strategy // tier cursors are independent
	backup  balancer.Strategy
	cfg     config.Proxy
	policy  *retry.Policy

	transport http.RoundTripper

	proxies    map[string]*httputil.ReverseProxy
	proxiesMux sync.RWMutex

	breakers    map[string]*gobreaker.CircuitBreaker
	breakersMux sync.RWMutex

	limiter   *rate.Limiter // nil when rate limiting is disabled
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates a dispatcher over the given pool
func New(pool *registry.Pool, strategy string, cfg config.Proxy, rl config.RateLimit,
	policy *retry.Policy, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {

	var limiter *rate.Limiter
	if rl.Enabled {
		limiter = rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)
	}

	return &Dispatcher{
		pool:    pool,
		primary: balancer.ForName(strategy),
		backup:  balancer.ForName(strategy),
		cfg:     cfg,
		policy:  policy,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: time.Duration(cfg.ConnectTimeout) * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: time.Duration(cfg.ResponseTimeout) * time.Second,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
		},
		proxies:   make(map[string]*httputil.ReverseProxy),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		limiter:   limiter,
		collector: collector,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.limiter != nil && !d.limiter.Allow() {
		d.collector.RateLimitedTotal.Inc()
		writeErrorPage(w, http.StatusServiceUnavailable)
		return
	}

	requestID := uuid.New().String()
	r.Header.Set("X-Request-ID", requestID)

	// Buffer the body up front: a failed attempt may have consumed it, and
	// the next attempt needs to replay it from the start.
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			d.logger.Error("failed to buffer request body",
				zap.String("request_id", requestID),
				zap.Error(err))
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	d.policy.Budget().TrackRequest()
	start := time.Now()

	excluded := make(map[string]struct{})
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts(); attempt++ {
		// Caller disconnected, stop working on its behalf
		if r.Context().Err() != nil {
			d.logger.Warn("client canceled request", zap.String("request_id", requestID))
			return
		}

		b, reason := d.selectBackend(excluded)
		if b == nil {
			d.logger.Error("no backend available",
				zap.String("request_id", requestID),
				zap.Int("attempt", attempt))
			writeErrorPage(w, d.statusFor(lastErr, http.StatusServiceUnavailable))
			return
		}

		d.logger.Debug("routing request",
			zap.String("request_id", requestID),
			zap.String("backend", b.Address),
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))

		// Rewind the buffered body for retry attempts
		if bodyBytes != nil && attempt > 1 {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		crw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		err := d.forwardOnce(b, crw, r)

		if err == nil {
			d.collector.RequestsTotal.WithLabelValues(b.Address, r.Method, strconv.Itoa(crw.status)).Inc()
			d.collector.RequestDuration.WithLabelValues(b.Address, r.Method).Observe(time.Since(start).Seconds())

			d.logger.Debug("request completed",
				zap.String("request_id", requestID),
				zap.String("backend", b.Address),
				zap.Int("status", crw.status),
				zap.Duration("duration", time.Since(start)))
			return
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Nothing was sent upstream; skip the backend for this request
			excluded[b.Address] = struct{}{}
			d.collector.FailoversTotal.WithLabelValues("breaker_open").Inc()
			lastErr = err
			continue
		}

		// Transport failure. Feed it back immediately rather than waiting
		// for the next probe cycle.
		d.pool.ReportFailure(b.Address)
		lastErr = err

		if crw.wrote {
			// Response bytes already reached the caller; a partial response
			// is never silently replaced. Re-panic so the server aborts the
			// connection and the caller sees the truncation.
			d.logger.Error("upstream failed mid-response",
				zap.String("request_id", requestID),
				zap.String("backend", b.Address),
				zap.Error(err))
			panic(http.ErrAbortHandler)
		}

		failReason := "connect_error"
		if isTimeout(err) {
			failReason = "timeout"
		}
		d.collector.FailoversTotal.WithLabelValues(failReason).Inc()

		d.logger.Warn("upstream failed before response",
			zap.String("request_id", requestID),
			zap.String("backend", b.Address),
			zap.String("reason", failReason),
			zap.Int("attempt", attempt),
			zap.Error(err))

		excluded[b.Address] = struct{}{}

		if !d.policy.AllowFailover(r, attempt) {
			break
		}
	}

	writeErrorPage(w, d.statusFor(lastErr, http.StatusBadGateway))
}

// forwardOnce relays the request to one backend, holding its in-flight slot
// for the duration. A non-nil return means no usable response was produced
// by this backend (or, with crw.wrote set, that the relay was cut short).
func (d *Dispatcher) forwardOnce(b *registry.Backend, crw *captureWriter, r *http.Request) error {
	defer b.Release()

	ue := &upstreamError{}
	req := r.WithContext(context.WithValue(r.Context(), upstreamErrKey{}, ue))

	_, err := d.breakerFor(b.Address).Execute(func() (res interface{}, ferr error) {
		// The reverse proxy signals a mid-body copy failure by panicking
		// with ErrAbortHandler. Turn that into an error so the breaker
		// counts it and the dispatcher can report the failure.
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					ferr = errUpstreamAborted
					return
				}
				panic(rec)
			}
		}()
		d.proxyFor(b).ServeHTTP(crw, req)
		if ue.err != nil {
			return nil, ue.err
		}
		return nil, nil
	})
	return err
}

// selectBackend picks a backend with tiered failover: healthy primaries
// first, backup tier only when no primary can take the request.
func (d *Dispatcher) selectBackend(excluded map[string]struct{}) (*registry.Backend, string) {
	if b := d.selectFromTier(registry.RolePrimary, d.primary, excluded); b != nil {
		return b, "primary-healthy"
	}
	if b := d.selectFromTier(registry.RoleBackup, d.backup, excluded); b != nil {
		return b, "backup-failover"
	}
	return nil, "none-available"
}

// selectFromTier runs the strategy over the tier's healthy candidates. A
// backend at its connection cap is skipped and selection continues within
// the tier; an empty or fully-capped tier yields nil.
func (d *Dispatcher) selectFromTier(role registry.Role, strat balancer.Strategy, excluded map[string]struct{}) *registry.Backend {
	healthy := d.pool.ListHealthy(role)

	candidates := make([]*registry.Backend, 0, len(healthy))
	for _, b := range healthy {
		if _, skip := excluded[b.Address]; skip {
			continue
		}
		if d.breakerFor(b.Address).State() == gobreaker.StateOpen {
			continue
		}
		candidates = append(candidates, b)
	}

	for len(candidates) > 0 {
		b := strat.Select(candidates)
		if b.TryAcquire() {
			return b
		}
		// At capacity: drop from this attempt, keep trying the tier
		kept := candidates[:0]
		for _, c := range candidates {
			if c != b {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	return nil
}

// proxyFor returns the reverse proxy for a backend address, creating it on
// first use. Errors are captured into the request context instead of being
// written, so the dispatcher decides between failover and an error page.
func (d *Dispatcher) proxyFor(b *registry.Backend) *httputil.ReverseProxy {
	d.proxiesMux.RLock()
	rp, ok := d.proxies[b.Address]
	d.proxiesMux.RUnlock()
	if ok {
		return rp
	}

	d.proxiesMux.Lock()
	defer d.proxiesMux.Unlock()
	if rp, ok := d.proxies[b.Address]; ok {
		return rp
	}

	rp = httputil.NewSingleHostReverseProxy(b.URL)
	rp.Transport = d.transport
	rp.FlushInterval = 100 * time.Millisecond
	rp.ErrorLog = zap.NewStdLog(d.logger.Named("reverseproxy"))
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if ue, ok := r.Context().Value(upstreamErrKey{}).(*upstreamError); ok {
			ue.err = err
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}

	d.proxies[b.Address] = rp
	return rp
}

// breakerFor returns the circuit breaker for a backend address, creating it
// on first use.
func (d *Dispatcher) breakerFor(address string) *gobreaker.CircuitBreaker {
	d.breakersMux.RLock()
	cb, ok := d.breakers[address]
	d.breakersMux.RUnlock()
	if ok {
		return cb
	}

	d.breakersMux.Lock()
	defer d.breakersMux.Unlock()
	if cb, ok := d.breakers[address]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    address,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && ratio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("circuit breaker state change",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	d.breakers[address] = cb
	return cb
}

// statusFor maps the last failure to the synthesized response status
func (d *Dispatcher) statusFor(err error, fallback int) int {
	if err == nil {
		return fallback
	}
	if isTimeout(err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// isTimeout reports whether an upstream error was a deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// captureWriter records the relayed status and whether any response bytes
// have reached the caller, the point past which failover is off the table.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	wrote       bool
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.wrote = true
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(p []byte) (int, error) {
	cw.wrote = true
	cw.wroteHeader = true
	return cw.ResponseWriter.Write(p)
}

// Flush lets the reverse proxy stream responses through
func (cw *captureWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack supports protocol upgrades through the proxy
func (cw *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := cw.ResponseWriter.(http.Hijacker); ok {
		cw.wrote = true
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
