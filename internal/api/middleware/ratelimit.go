package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/metrics"
)

// Rule limits requests whose "METHOD path" starts with Prefix.
type Rule struct {
	Prefix   string
	Requests int
	Window   time.Duration
	BySigner bool // count per verified signer, applied by PerSigner
}

// DefaultRules throttle writes per verified signer and reads per IP.
var DefaultRules = []Rule{
	{Prefix: "POST /room/", Requests: 30, Window: time.Minute, BySigner: true},
	{Prefix: "POST /room", Requests: 10, Window: time.Hour, BySigner: true},
	{Prefix: "POST /messages/for-user", Requests: 60, Window: time.Minute, BySigner: true},
	{Prefix: "GET /room/", Requests: 120, Window: time.Minute},
}

// violationThreshold is how many rejected requests within an hour get an
// address blocked when auto-blocking is on.
const violationThreshold = 10

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Rules            []Rule   // defaults to DefaultRules
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool
	BlockDuration    time.Duration // defaults to 24h
}

// RateLimiter applies fixed-window request counters kept in Redis.
type RateLimiter struct {
	client    *redis.Client
	rules     []Rule
	allow     allowList
	autoBlock bool
	blockFor  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	blockFor := cfg.BlockDuration
	if blockFor <= 0 {
		blockFor = 24 * time.Hour
	}

	rl := &RateLimiter{
		client:    client,
		rules:     rules,
		allow:     parseAllowList(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		blockFor:  blockFor,
		logger:    logger,
		now:       time.Now,
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.allow.ips)).
			Int("cidrs", len(rl.allow.nets)).
			Msg("rate limit whitelist configured")
	}
	return rl
}

// allowList holds addresses exempt from limiting.
type allowList struct {
	ips  map[string]bool
	nets []*net.IPNet
}

func parseAllowList(entries []string, logger zerolog.Logger) allowList {
	a := allowList{ips: make(map[string]bool)}
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			a.ips[entry] = true
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		a.nets = append(a.nets, n)
	}
	return a
}

func (a allowList) contains(addr string) bool {
	if a.ips[addr] {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the request's remote address without the port. It runs
// after chi's RealIP, which has already applied forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// match returns the rule with the longest prefix matching r. The caller
// checks whether the rule is one it enforces.
func (rl *RateLimiter) match(r *http.Request) (Rule, bool) {
	key := r.Method + " " + r.URL.Path
	var best Rule
	found := false
	for _, rule := range rl.rules {
		if strings.HasPrefix(key, rule.Prefix) && len(rule.Prefix) > len(best.Prefix) {
			best, found = rule, true
		}
	}
	return best, found
}

type decision struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// take counts one request against subject under rule.
func (rl *RateLimiter) take(ctx context.Context, rule Rule, subject string) (decision, error) {
	now := rl.now()
	bucket := now.UnixNano() / int64(rule.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rule.Prefix, subject, bucket)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision{allowed: true}, err
	}

	count := int(incr.Val())
	remaining := rule.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return decision{
		allowed:   count <= rule.Requests,
		remaining: remaining,
		resetAt:   time.Unix(0, (bucket+1)*int64(rule.Window)),
	}, nil
}

// Middleware enforces IP blocks and the per-IP rules. It runs before
// authentication, so it never trusts the X-Ledger-Key header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.allow.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.isBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		if rule, ok := rl.match(r); ok && !rule.BySigner {
			if !rl.enforce(w, r, rule, "ip:"+ip, ip) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// PerSigner enforces the per-signer rules. It must run after RequireAuth;
// requests without a verified identity pass through untouched.
func (rl *RateLimiter) PerSigner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		identity := GetIdentityFromContext(r.Context())
		if !identity.Verified() || rl.allow.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rule, ok := rl.match(r); ok && rule.BySigner {
			if !rl.enforce(w, r, rule, "key:"+identity.Key().String(), ip) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// enforce counts the request against subject and writes the limit
// headers. On rejection it writes a 429 and returns false. Redis
// failures let the request through.
func (rl *RateLimiter) enforce(w http.ResponseWriter, r *http.Request, rule Rule, subject, ip string) bool {
	d, err := rl.take(r.Context(), rule, subject)
	if err != nil {
		rl.logger.Error().Err(err).Msg("rate limit counter unavailable")
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Requests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))

	if d.allowed {
		return true
	}

	retry := int(d.resetAt.Sub(rl.now()).Seconds()) + 1
	w.Header().Set("Retry-After", strconv.Itoa(retry))

	metrics.RateLimitHits.WithLabelValues(rule.Prefix).Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "rate_limit_exceeded").
		Str("ip", ip).
		Str("subject", subject).
		Str("endpoint", r.URL.Path).
		Msg("rate limit exceeded")
	rl.recordViolation(r.Context(), ip)

	jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

func (rl *RateLimiter) isBlocked(ctx context.Context, ip string) bool {
	n, _ := rl.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0
}

// recordViolation blocks ip once it crosses violationThreshold.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	if count == 1 {
		rl.client.Expire(ctx, key, time.Hour)
	}
	if count < violationThreshold {
		return
	}

	rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", rl.blockFor)
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count).
		Msg("IP auto-blocked for repeated violations")
}
