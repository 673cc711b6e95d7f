// Package api exposes the contract over HTTP with gin.
//
// Reads are open. Register, upgrade and claim are signed by the acting
// account: the body carries the account, a compressed secp256k1 pub_key,
// a unix deadline and a DER signature over wallet.ActionDigest of the
// action name and the request's Fields.
package api

import (
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/logging"
)

// DefaultSigningWindow bounds how far ahead a request deadline may lie.
const DefaultSigningWindow = time.Hour

// Options configures the router.
type Options struct {
	Logger logging.Logger

	// Gatherer backs GET /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer

	// AllowOrigins enables CORS for the listed origins.
	AllowOrigins []string

	// RateLimit caps signed requests per client IP per second. Zero disables it.
	RateLimit uint

	// Redis shares the rate limit counters between replicas. Nil keeps
	// them in memory.
	Redis *redis.Client

	SigningWindow time.Duration
	Now           func() time.Time
}

// Server holds the handlers' dependencies.
type Server struct {
	c      *contract.Contract
	log    logging.Logger
	window time.Duration
	now    func() time.Time
}

// NewServer returns a Server for c.
func NewServer(c *contract.Contract, opts Options) *Server {
	s := &Server{c: c, log: opts.Logger, window: opts.SigningWindow, now: opts.Now}
	if s.log == nil {
		s.log = logging.Nop
	}
	if s.window <= 0 {
		s.window = DefaultSigningWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NewRouter builds the gin engine serving c.
func NewRouter(c *contract.Contract, opts Options) *gin.Engine {
	s := NewServer(c, opts)

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(gin.Recovery(), requestLogger(s.log))
	if len(opts.AllowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  opts.AllowOrigins,
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			MaxAge:        24 * time.Hour,
		}))
	}

	limit := func(c *gin.Context) { c.Next() }
	if opts.RateLimit > 0 {
		store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  time.Second,
			Limit: opts.RateLimit,
		})
		if opts.Redis != nil {
			store = ratelimit.RedisStore(&ratelimit.RedisOptions{
				RedisClient: opts.Redis,
				Rate:        time.Second,
				Limit:       opts.RateLimit,
			})
		}
		limit = ratelimit.RateLimiter(store, &ratelimit.Options{
			ErrorHandler: rateLimited,
			KeyFunc:      func(c *gin.Context) string { return c.ClientIP() },
		})
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/levels/costs", s.LevelCosts)
	router.GET("/stats", s.Stats)
	router.GET("/receipts", s.Receipts)
	router.GET("/accounts/:address", s.Account)

	users := router.Group("/users/:id")
	{
		users.GET("", s.User)
		users.GET("/income", s.Income)
		users.GET("/referrals", s.Referrals)
		users.GET("/upline", s.Upline)
		users.GET("/royalty/:tier", s.Royalty)
	}

	router.POST("/register", limit, s.Register)
	router.POST("/upgrade", limit, s.Upgrade)
	router.POST("/royalty/claim", limit, s.Claim)
	router.POST("/royalty/:tier/distribute", limit, s.Distribute)

	admin := router.Group("/admin")
	{
		admin.POST("/pause", limit, s.Admin("pause"))
		admin.POST("/unpause", limit, s.Admin("unpause"))
		admin.POST("/withdraw", limit, s.Admin("withdraw"))
	}

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func rateLimited(c *gin.Context, info ratelimit.Info) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": "too many requests, try again in " + time.Until(info.ResetTime).Round(time.Millisecond).String(),
		"code":  "rate_limited",
	})
}

// requestLogger writes one line per request to log.
func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		msg := fmt.Sprintf("api: %s %s %d %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start).Round(time.Microsecond))
		switch {
		case status >= http.StatusInternalServerError:
			log.Error(msg)
		case status >= http.StatusBadRequest:
			log.Warn(msg)
		default:
			log.Info(msg)
		}
	}
}

// fail writes err as {"error", "code"} with its mapped status.
func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": codeFor(err)})
}
