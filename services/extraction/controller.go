package extraction

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"streambridge/internal/cache"
	"streambridge/models"
	"streambridge/services/stealth"
)

// ControllerConfig carries the retry and caching tunables.
type ControllerConfig struct {
	// MaxAttempts is the total number of attempts per request (first try
	// plus retries).
	MaxAttempts int
	// RetryDelays is the backoff ladder between attempts. The last entry
	// repeats if there are more retries than entries.
	RetryDelays []time.Duration
	// RateLimitDelay replaces the ladder entry after a rate-limited attempt.
	RateLimitDelay time.Duration
	// AttemptTimeout bounds a single attempt end to end.
	AttemptTimeout time.Duration
	// ResultTTL is how long successful results stay cached.
	ResultTTL time.Duration
	// ResultCapacity bounds the result cache.
	ResultCapacity int
}

// DefaultControllerConfig returns the production retry ladder: 2s, 5s, 10s
// between attempts, 60s after a rate limit, 45s per attempt, up to 500
// results cached five minutes.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxAttempts:    4,
		RetryDelays:    []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		RateLimitDelay: 60 * time.Second,
		AttemptTimeout: 45 * time.Second,
		ResultTTL:      5 * time.Minute,
		ResultCapacity: 500,
	}
}

// Options are the per-request knobs a client may set.
type Options struct {
	// Server overrides the default embed server.
	Server string
	// ForceProxy routes the stream through the proxy even when the source
	// would play direct.
	ForceProxy bool
}

// Controller owns the full lifecycle of extraction requests: cache lookup,
// concurrent-request coalescing, fingerprint leasing, the retry ladder, and
// result caching. Handlers call Extract and nothing else.
type Controller struct {
	cfg     ControllerConfig
	engCfg  EngineConfig
	engine  *Engine
	pool    *stealth.Pool
	results *cache.Table[*models.ExtractionResult]
	flight  singleflight.Group

	mu     sync.Mutex
	active map[string]*Session
}

// NewController wires the controller over an engine and a fingerprint pool.
func NewController(cfg ControllerConfig, engCfg EngineConfig, engine *Engine, pool *stealth.Pool) *Controller {
	return &Controller{
		cfg:     cfg,
		engCfg:  engCfg,
		engine:  engine,
		pool:    pool,
		results: cache.NewTable[*models.ExtractionResult](cfg.ResultCapacity, cfg.ResultTTL),
		active:  make(map[string]*Session),
	}
}

// requestKey identifies a deduplicatable request: same title, same server.
func requestKey(ref models.CatalogRef, server string) string {
	return ref.Key() + "|" + server
}

// Extract resolves a catalog ref to a playable stream. Identical concurrent
// requests share a single upstream extraction; completed results are served
// from cache until they expire.
func (c *Controller) Extract(ctx context.Context, ref models.CatalogRef, opts Options) (*models.ExtractionResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, E(KindInvalidRequest, err)
	}

	server := opts.Server
	pinned := server != ""
	if !pinned {
		server = c.defaultServer()
	}
	key := requestKey(ref, server)

	if res, ok := c.results.Get(key); ok {
		log.Printf("[controller] cache hit key=%s", key)
		return c.finalize(res, opts), nil
	}

	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		return c.extractWithRetry(ctx, ref, server, key, pinned)
	})
	if shared {
		log.Printf("[controller] coalesced duplicate request key=%s", key)
	}
	if err != nil {
		return nil, err
	}
	return c.finalize(v.(*models.ExtractionResult), opts), nil
}

// finalize applies per-request options to a shared result without mutating
// the cached copy.
func (c *Controller) finalize(res *models.ExtractionResult, opts Options) *models.ExtractionResult {
	if !opts.ForceProxy || res.RequiresProxy {
		return res
	}
	out := *res
	out.RequiresProxy = true
	if out.Source == "" {
		out.Source = serverSourceTag(out.Server)
	}
	return &out
}

// extractWithRetry runs the attempt ladder for one coalesced request.
func (c *Controller) extractWithRetry(ctx context.Context, ref models.CatalogRef, server, key string, pinned bool) (*models.ExtractionResult, error) {
	attempt := 0
	result, err := retry.DoWithData(
		func() (*models.ExtractionResult, error) {
			attempt++
			return c.runAttempt(ctx, ref, c.serverForAttempt(server, attempt, pinned), key, attempt)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return KindOf(err).Retryable()
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return c.retryDelay(n, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	result.ExpiresAt = time.Now().Add(c.cfg.ResultTTL)
	c.results.Put(key, result)
	return result, nil
}

// serverForAttempt returns the server for a given attempt number. The final
// attempt switches to the alternate embed server, but only when the failures
// came from the default server; a client-pinned server is honored on every
// attempt.
func (c *Controller) serverForAttempt(server string, attempt int, pinned bool) string {
	if pinned || attempt < c.cfg.MaxAttempts {
		return server
	}
	for _, s := range c.engCfg.Servers {
		if s != server {
			log.Printf("[controller] final attempt, switching server %s -> %s", server, s)
			return s
		}
	}
	return server
}

// retryDelay returns the wait before retry n (0-based). A rate-limited
// attempt overrides the ladder with the longer rate-limit delay.
func (c *Controller) retryDelay(n uint, err error) time.Duration {
	if KindOf(err) == KindUpstreamRateLimited {
		return c.cfg.RateLimitDelay
	}
	if len(c.cfg.RetryDelays) == 0 {
		return 0
	}
	if int(n) >= len(c.cfg.RetryDelays) {
		return c.cfg.RetryDelays[len(c.cfg.RetryDelays)-1]
	}
	return c.cfg.RetryDelays[n]
}

// runAttempt executes one attempt: lease a fingerprint, run the engine under
// the attempt timeout, return the fingerprint no matter what.
func (c *Controller) runAttempt(ctx context.Context, ref models.CatalogRef, server, key string, attempt int) (*models.ExtractionResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	fp, err := c.pool.Acquire(attemptCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, E(KindCancelled, ctx.Err())
		}
		return nil, E(KindNoFingerprintAvailable, err)
	}
	defer c.pool.Release(fp)

	session := NewSession(ref, server, fp.ID)
	c.trackSession(key, session)
	defer c.untrackSession(key, session)
	defer session.Close()

	res, err := c.engine.Run(attemptCtx, session, fp, attempt)
	if err != nil {
		kind := KindOf(err)
		log.Printf("[controller] attempt %d/%d failed key=%s kind=%s err=%v",
			attempt, c.cfg.MaxAttempts, key, kind, err)
		if ctx.Err() != nil {
			return nil, E(KindCancelled, ctx.Err())
		}
		return nil, err
	}
	log.Printf("[controller] attempt %d succeeded key=%s method=%s source=%s",
		attempt, key, res.Method, res.Source)
	return res, nil
}

// trackSession publishes the session for progress polling.
func (c *Controller) trackSession(key string, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[key] = s
}

func (c *Controller) untrackSession(key string, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[key] == s {
		delete(c.active, key)
	}
}

// Progress reports the live progress of an in-flight extraction for the
// given ref/server pair.
func (c *Controller) Progress(ref models.CatalogRef, server string) (models.ProgressEvent, bool) {
	if server == "" {
		server = c.defaultServer()
	}
	c.mu.Lock()
	s, ok := c.active[requestKey(ref, server)]
	c.mu.Unlock()
	if !ok {
		return models.ProgressEvent{}, false
	}
	return models.ProgressEvent{Percent: s.Progress(), Phase: stagePhase[s.Stage()]}, true
}

// Invalidate drops the cached result for a ref/server pair.
func (c *Controller) Invalidate(ref models.CatalogRef, server string) {
	if server == "" {
		server = c.defaultServer()
	}
	c.results.Invalidate(requestKey(ref, server))
}

// PurgeCache drops every cached result.
func (c *Controller) PurgeCache() {
	c.results.Purge()
}

// CacheLen returns the number of cached results.
func (c *Controller) CacheLen() int {
	return c.results.Len()
}

func (c *Controller) defaultServer() string {
	if len(c.engCfg.Servers) > 0 {
		return c.engCfg.Servers[0]
	}
	return "vidsrc.xyz"
}

// Servers returns the configured embed server order.
func (c *Controller) Servers() []string {
	out := make([]string, len(c.engCfg.Servers))
	copy(out, c.engCfg.Servers)
	return out
}
