// Package webserver serves the replication loop’s status and lets an
// operator stop the loop over HTTP.
package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/replicator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/semaphore"
)

// ErrStopRequested is the cancellation cause when a client asks the
// replicator to stop.
var ErrStopRequested = errors.New("stop requested over HTTP")

const shutdownTimeout = 5 * time.Second

// StatusSource is what the server reports on. *replicator.Loop is one.
type StatusSource interface {
	Status() replicator.Status
}

// Server is the HTTP status server.
type Server struct {
	port          int
	source        StatusSource
	stop          context.CancelCauseFunc
	logger        *logger.Logger
	srv           *http.Server
	operationLock *semaphore.Weighted
}

// APIResponse is the reply to an operation request.
type APIResponse struct {
	Success          bool    `json:"success"`
	Error            *string `json:"error,omitempty"`
	ErrorDescription *string `json:"errorDescription,omitempty"`
}

// StatusResponse is the reply to a status request. LastPosition is the
// relaxed Extended JSON of the last applied event’s position, or null.
type StatusResponse struct {
	State           replicator.LoopState `json:"state"`
	LastPosition    json.RawMessage      `json:"lastPosition"`
	EventsApplied   int64                `json:"eventsApplied"`
	EventsPerSecond float64              `json:"eventsPerSecond"`
	Stats           map[string]int64     `json:"stats"`
}

// StopRequest is the optional body of a stop request.
type StopRequest struct {
	Reason string `bson:"reason"`
}

// NewServer returns a Server that reports source’s status and calls stop
// when a client asks to stop.
func NewServer(port int, source StatusSource, stop context.CancelCauseFunc, l *logger.Logger) *Server {
	return &Server{
		port:          port,
		source:        source,
		stop:          stop,
		logger:        l,
		operationLock: semaphore.NewWeighted(1),
	}
}

// operationLockMiddleware rejects an operation while another one runs.
func (server *Server) operationLockMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !server.operationLock.TryAcquire(1) {
			errorName := "RequestInProgress"
			errorDescription := "Another request is currently in progress"
			c.AbortWithStatusJSON(http.StatusConflict, APIResponse{false, &errorName, &errorDescription})
			return
		}
		defer server.operationLock.Release(1)

		c.Next()
	}
}

// responseBodyWriter captures the response body so that it can be logged.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (rbw responseBodyWriter) Write(b []byte) (int, error) {
	rbw.body.Write(b)
	return rbw.ResponseWriter.Write(b)
}

// requestAndResponseLogger logs each request and its response under a
// shared trace ID, which it also returns in the Trace-Id header.
func (server *Server) requestAndResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		traceID := uuid.New().String()

		var buf []byte
		if c.Request.Body != nil {
			buf, _ = io.ReadAll(c.Request.Body)
		}

		server.logger.Info().
			Str("uri", c.Request.RequestURI).
			Str("method", c.Request.Method).
			Str("body", string(buf)).
			Str("clientIP", c.ClientIP()).
			Str("traceID", traceID).
			Msg("Received request.")

		c.Request.Body = io.NopCloser(bytes.NewBuffer(buf))
		c.Header("Trace-Id", traceID)

		rbw := &responseBodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rbw

		c.Next()

		server.logger.Info().
			Int("status", c.Writer.Status()).
			Str("body", rbw.body.String()).
			Str("traceID", traceID).
			Stringer("latency", time.Since(t)).
			Msg("Sent response.")
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(server.requestAndResponseLogger(), gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", server.statusEndpoint)
		v1.POST("/stop", server.operationLockMiddleware(), server.stopEndpoint)
	}

	router.HandleMethodNotAllowed = true

	return router
}

// Run serves until ctx ends. It should be called once.
func (server *Server) Run(ctx context.Context) error {
	server.srv = &http.Server{
		Addr:    "0.0.0.0:" + strconv.Itoa(server.port),
		Handler: server.setupRouter(),
	}

	serveErr := make(chan error, 1)

	go func() {
		server.logger.Info().Int("port", server.port).Msg("Running status server.")
		serveErr <- server.srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errors.Wrapf(err, "serving on port %d", server.port)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.srv.Shutdown(shutdownCtx); err != nil {
		server.logger.Warn().Err(err).Msg("Status server did not shut down gracefully.")
	}

	return nil
}

func (server *Server) statusEndpoint(c *gin.Context) {
	status := server.source.Status()

	position := json.RawMessage("null")
	if token, has := status.LastPosition.Get(); has {
		extJSON, err := bson.MarshalExtJSON(token, false, false)
		if err != nil {
			server.errorResponse(c, http.StatusInternalServerError, errors.Wrap(err, "rendering position"))
			return
		}

		position = extJSON
	}

	c.JSON(http.StatusOK, StatusResponse{
		State:           status.State,
		LastPosition:    position,
		EventsApplied:   status.EventsApplied,
		EventsPerSecond: status.EventsPerSecond,
		Stats:           status.Stats,
	})
}

func (server *Server) stopEndpoint(c *gin.Context) {
	var req StopRequest

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindWith(&req, ExtJSONBinding); err != nil {
			server.errorResponse(c, http.StatusBadRequest, err)
			return
		}
	}

	cause := ErrStopRequested
	if req.Reason != "" {
		cause = fmt.Errorf("%w: %s", ErrStopRequested, req.Reason)
	}

	server.logger.Info().
		Str("reason", req.Reason).
		Msg("Stopping replication at client request.")

	server.stop(cause)
	c.JSON(http.StatusOK, APIResponse{true, nil, nil})
}

func (server *Server) errorResponse(c *gin.Context, code int, err error) {
	errorName := "APIError"
	errorDescription := err.Error()

	c.JSON(code, APIResponse{false, &errorName, &errorDescription})
}
