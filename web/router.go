package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/magpie-social/magpie/activitypub"
	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
	"golang.org/x/time/rate"
)

const activityJSONType = "application/activity+json; charset=utf-8"

// NewRouter builds the gin engine with all federation and API routes.
func NewRouter(conf *util.AppConfig, store *db.DB, processor *activitypub.Processor, outbox *activitypub.Client) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":    util.Name,
			"version": util.GetVersion(),
			"actor":   conf.ActorURI(),
		})
	})

	g.GET("/index.xml", func(c *gin.Context) {
		c.Header("Content-Type", "application/atom+xml; charset=utf-8")
		feed, err := GetAtomFeed(store, conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: feed})
		}
	})

	if conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/u/:username", func(c *gin.Context) {
			c.Header("Content-Type", activityJSONType)
			actor, err := GetActor(store, conf, c.Param("username"))
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		g.GET("/u/:username/followers", func(c *gin.Context) {
			c.Header("Content-Type", activityJSONType)
			collection, err := GetFollowersCollection(store, conf, c.Param("username"))
			if err != nil {
				c.Render(500, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/u/:username/outbox", func(c *gin.Context) {
			c.Header("Content-Type", activityJSONType)
			collection, err := GetOutboxCollection(store, conf, c.Param("username"))
			if err != nil {
				c.Render(500, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/u/:username/following", func(c *gin.Context) {
			c.Header("Content-Type", activityJSONType)
			c.Render(200, render.String{Format: fmt.Sprintf(
				`{"@context":"https://www.w3.org/ns/activitystreams","id":"https://%s/u/%s/following","type":"OrderedCollection","totalItems":0}`,
				conf.Conf.SslDomain, c.Param("username"))})
		})

		g.GET("/bookmark/:id", func(c *gin.Context) {
			bookmarkId, ok := parseId(c)
			if !ok {
				return
			}
			c.Header("Content-Type", activityJSONType)
			note, err := GetBookmarkNote(store, conf, bookmarkId)
			if err != nil {
				c.Render(404, render.String{Format: note})
			} else {
				c.Render(200, render.String{Format: note})
			}
		})

		g.GET("/comment/:id", func(c *gin.Context) {
			commentId, ok := parseId(c)
			if !ok {
				return
			}
			c.Header("Content-Type", activityJSONType)
			note, err := GetCommentNote(store, conf, commentId)
			if err != nil {
				c.Render(404, render.String{Format: note})
			} else {
				c.Render(200, render.String{Format: note})
			}
		})

		g.POST("/api/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			body, err := c.GetRawData()
			if err != nil {
				log.Printf("Inbox: Failed to read body: %v", err)
				c.Status(400)
				return
			}

			outcome, err := processor.Process(c.Request.Context(), c.Request, body)
			if err != nil {
				log.Printf("Inbox: Transient failure: %v", err)
				c.JSON(500, gin.H{"error": "temporary failure, retry later"})
				return
			}
			c.JSON(outcome.HTTPStatus(), gin.H{"status": outcome.String()})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/jrd+json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))

			resp, err := GetWebfinger(store, conf, resource)
			if err != nil {
				c.Render(404, render.String{Format: resp})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})

		g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			discovery, err := GetNodeInfoDiscovery(conf)
			if err != nil {
				c.Render(500, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: discovery})
			}
		})

		g.GET("/nodeinfo/2.0", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			info, err := GetNodeInfo(store)
			if err != nil {
				c.Render(500, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: info})
			}
		})
	}

	api := NewAPI(conf, store, outbox)
	admin := g.Group("/api", TokenAuthMiddleware(conf.Conf.AdminToken))
	{
		admin.POST("/bookmark", api.CreateBookmark)
		admin.GET("/bookmark/:id", api.GetBookmark)
		admin.PUT("/bookmark/:id", api.UpdateBookmark)
		admin.DELETE("/bookmark/:id", api.DeleteBookmark)
		admin.POST("/bookmark/:id/comment", api.CreateComment)
	}

	return g
}

// Run starts the HTTP server on the configured address.
func Run(conf *util.AppConfig, g *gin.Engine) error {
	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	log.Printf("Starting HTTP server on %s", addr)
	return g.Run(addr)
}
