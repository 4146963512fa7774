// Package server exposes the dispatcher over HTTP: hosting platforms post
// trigger events, tooling polls run snapshots.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/trigger"
)

// Dispatcher is the part of dispatch.Dispatcher the server uses.
type Dispatcher interface {
	Submit(ev trigger.Event) (*pipeline.Run, trigger.Decision)
	Get(id string) (pipeline.Snapshot, bool)
	List() []pipeline.Snapshot
	Cancel(id string) bool
}

// eventRequest is the body of POST /events.
type eventRequest struct {
	Type   trigger.EventType `json:"type" binding:"required"`
	Ref    string            `json:"ref" binding:"required"`
	Actor  string            `json:"actor"`
	Commit string            `json:"commit"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler builds the HTTP routes. A non-empty token is required as a
// bearer token on every route except /healthz.
func NewHandler(d Dispatcher, token string, log zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/", bearer(token))
	{
		api.POST("/events", func(c *gin.Context) {
			var req eventRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			ev := trigger.Event{Type: req.Type, Ref: req.Ref, Actor: req.Actor, Commit: req.Commit}
			if err := ev.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}

			run, decision := d.Submit(ev)
			if run == nil {
				c.Header("X-Freightline-Reason", decision.Reason)
				c.Status(http.StatusNoContent)
				return
			}
			c.Header("Location", "/runs/"+run.ID)
			c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "ref": decision.Params.Ref, "reason": decision.Reason})
		})

		api.GET("/runs", func(c *gin.Context) {
			c.JSON(http.StatusOK, d.List())
		})

		api.GET("/runs/:id", func(c *gin.Context) {
			snap, ok := d.Get(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
				return
			}
			c.JSON(http.StatusOK, snap)
		})

		api.DELETE("/runs/:id", func(c *gin.Context) {
			if !d.Cancel(c.Param("id")) {
				c.JSON(http.StatusNotFound, errorResponse{Error: "run not found or already finished"})
				return
			}
			c.Status(http.StatusAccepted)
		})
	}

	return r
}

func bearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func Serve(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("listening for events")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
