package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ollama-gate/internal/auth"
	"ollama-gate/internal/config"
	"ollama-gate/internal/metrics"
	"ollama-gate/internal/ollama"
	"ollama-gate/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	// mediaType and rejectDetail are part of the wire contract, fixed at
	// startup like the rest of the configuration.
	mediaType    = "application/json"
	rejectDetail = "token is not valid"
)

var errTokenInvalid = requestError{Status: http.StatusUnauthorized, Detail: rejectDetail}

type Server struct {
	cfg       config.Config
	validator *auth.Validator
	backend   *ollama.Client
	metrics   *metrics.Metrics
	app       *echo.Echo
	address   string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, backend *ollama.Client, m *metrics.Metrics) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend client must not be nil")
	}
	if m == nil {
		return nil, errors.New("metrics must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = detailErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:       cfg,
		validator: auth.NewValidator(cfg.Auth.Token),
		backend:   backend,
		metrics:   m,
		app:       e,
		address:   cfg.Server.Listen,
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	slog.Info("starting server", "addr", s.address, "mode", s.cfg.Server.Mode)

	// No WriteTimeout: a write deadline would sever relays outliving it.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	switch s.cfg.Server.Mode {
	case config.ModeAsk:
		s.app.POST("/", s.handleAsk)
	default:
		s.app.POST("/api/generate", s.handleGenerate)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(c echo.Context) error {
	start := time.Now()

	var req translator.GenerateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		s.record(metrics.StatusInvalid, start)
		return err
	}

	token, model := auth.SplitModelField(req.Model)
	if !s.validator.TokenValid(token) {
		s.record(metrics.StatusUnauthorized, start)
		return errTokenInvalid
	}
	if model == "" {
		s.record(metrics.StatusInvalid, start)
		return requestError{Status: http.StatusBadRequest, Detail: "model name is missing"}
	}

	return s.relay(c, start, req.Resolve(model), translator.Passthrough)
}

func (s *Server) handleAsk(c echo.Context) error {
	start := time.Now()

	var req translator.AskRequest
	if err := decodeRequestBody(c, &req); err != nil {
		s.record(metrics.StatusInvalid, start)
		return err
	}

	if !s.validator.TokenValid(req.Token) {
		s.record(metrics.StatusUnauthorized, start)
		return errTokenInvalid
	}

	payload := ollama.GenerateRequest{
		Model:  s.cfg.Backend.Model,
		Prompt: req.Question,
	}
	return s.relay(c, start, payload, translator.Reshape)
}

// relay streams the backend response for payload to the caller, one
// transformed line per backend line, flushed as it arrives.
func (s *Server) relay(c echo.Context, start time.Time, payload any, transform translator.LineFunc) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		s.record(metrics.StatusError, start)
		return requestError{
			Status: http.StatusInternalServerError,
			Detail: "server does not support streaming responses",
		}
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Commit the response before the backend call. Past this point a
	// backend failure surfaces as a truncated stream, never an error body.
	c.Response().Header().Set(echo.HeaderContentType, mediaType)
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks, err := s.backend.Generate(ctx, payload)
	if err != nil {
		slog.Error("backend call failed", "err", err)
		s.record(metrics.StatusError, start)
		return nil
	}

	status := metrics.StatusOK
	forwarded := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			slog.Error("backend stream aborted", "err", chunk.Err)
			status = metrics.StatusError
			break
		}

		out, err := transform(chunk.Line)
		if err != nil {
			slog.Error("line transform failed", "err", err)
			status = metrics.StatusError
			break
		}

		if _, err := writer.Write(out); err != nil {
			slog.Warn("client write failed", "err", err)
			status = metrics.StatusError
			break
		}
		flusher.Flush()
		forwarded++
	}

	s.metrics.RecordLines(s.cfg.Server.Mode, forwarded)
	s.record(status, start)
	return nil
}

func (s *Server) record(status string, start time.Time) {
	s.metrics.RecordRequest(s.cfg.Server.Mode, status, time.Since(start))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{Status: http.StatusBadRequest, Detail: "request body is required"}
		}
		return requestError{Status: http.StatusBadRequest, Detail: fmt.Sprintf("invalid JSON payload: %v", err)}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{Status: http.StatusBadRequest, Detail: "request body must contain a single JSON object"}
	}
	return nil
}

type requestError struct {
	Status int
	Detail string
}

func (e requestError) Error() string {
	return e.Detail
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(c echo.Context, status int, detail string) error {
	return c.JSON(status, errorBody{Detail: detail})
}

func detailErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Detail)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = writeError(c, httpErr.Code, fmt.Sprintf("%v", httpErr.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error")
}

func printStartupBanner(cfg config.Config) {
	fmt.Println()
	fmt.Println("ollama-gate ready")
	fmt.Printf("Listening on http://%s\n", cfg.Server.Listen)
	fmt.Printf("Relaying to http://%s/api/generate (model %s, timeout %ds)\n",
		cfg.Backend.Address, cfg.Backend.Model, cfg.Backend.TimeoutSeconds)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	if cfg.Metrics.Enabled {
		fmt.Println("  GET  /metrics")
	}
	switch cfg.Server.Mode {
	case config.ModeAsk:
		fmt.Println("  POST /")
		fmt.Printf("Example:\n  curl http://%s/ -H 'Content-Type: application/json' -d '{\"question\":\"hello\",\"token\":\"<secret>\"}'\n\n",
			cfg.Server.Listen)
	default:
		fmt.Println("  POST /api/generate")
		fmt.Printf("Example:\n  curl http://%s/api/generate -H 'Content-Type: application/json' -d '{\"model\":\"<secret> %s\",\"prompt\":\"hello\"}'\n\n",
			cfg.Server.Listen, cfg.Backend.Model)
	}
}
