package pkceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/templates"
)

const readHeaderTimeout = 10 * time.Second

// ensureServer starts the shared callback listener on first use
func (e *Engine) ensureServer() (string, error) {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()

	if e.server != nil {
		return e.boundAddr, nil
	}

	addr := net.JoinHostPort(e.host, fmt.Sprint(e.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return "", oauth.NewError(oauth.CodePortInUse, "", "callback port %d is already in use", e.port).
				WithCause(err).
				WithDetail("address", addr)
		}
		return "", oauth.NewError(oauth.CodeServerStartFailed, "", "starting callback listener").
			WithCause(err).
			WithDetail("address", addr)
	}

	srv := &http.Server{
		Handler:           e.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	e.server = srv
	e.boundAddr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("callback listener stopped", zap.Error(err))
		}
	}()

	e.logger.Info("callback listener started", zap.String("address", e.boundAddr), zap.String("path", e.path))
	return e.boundAddr, nil
}

func (e *Engine) stopServer(ctx context.Context) error {
	e.srvMu.Lock()
	srv := e.server
	e.server = nil
	e.boundAddr = ""
	e.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stopping callback listener: %w", err)
	}
	e.logger.Info("callback listener stopped")
	return nil
}

func (e *Engine) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(e.requestLogger)
	r.Use(securityHeaders)

	r.Get(e.path, e.handleCallback)
	r.Get("/health", handleHealth)
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)
	return r
}

func (e *Engine) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if errCode := q.Get("error"); errCode != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		var provider string
		f, ok := e.claimVerified(state)
		if ok {
			provider = f.provider
		}
		authErr := oauth.NewError(oauth.CodeOAuthAuthorizationFailed, provider, "%s", msg).
			WithDetail("error", errCode)
		if ok {
			e.complete(f, nil, authErr)
		}
		e.renderFailure(w, authErr)
		return
	}

	code := q.Get("code")
	if code == "" || state == "" {
		e.renderFailure(w, oauth.NewError(oauth.CodeOAuthInvalidCallback, "", "callback is missing the code or state parameter"))
		return
	}

	f, ok := e.claimVerified(state)
	if !ok {
		e.logger.Warn("callback with unknown state")
		e.renderFailure(w, oauth.NewError(oauth.CodeOAuthInvalidState, "", "state does not match a pending authorization"))
		return
	}

	tok, err := e.exchange(r.Context(), f, code)
	e.complete(f, tok, err)
	if err != nil {
		e.logger.Warn("code exchange failed", zap.String("provider", f.provider), zap.Error(err))
		e.renderFailure(w, err)
		return
	}

	e.logger.Info("authorization completed",
		zap.String("provider", f.provider),
		zap.String("access_token", oauth.MaskToken(tok.AccessToken)),
	)
	if err := e.templates.WriteSuccess(w, templates.SuccessData{Provider: f.provider}); err != nil {
		e.logger.Error("rendering success page", zap.Error(err))
	}
}

func (e *Engine) claimVerified(state string) (*flow, bool) {
	if state == "" || e.states.Verify(state) != nil {
		return nil, false
	}
	return e.claim(state)
}

func (e *Engine) renderFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	data := templates.ErrorData{Message: err.Error()}

	var oerr *oauth.Error
	if errors.As(err, &oerr) {
		status = oerr.HTTPStatus()
		data.Code = string(oerr.Code)
		if oerr.Message != "" {
			data.Message = oerr.Message
		}
	}
	if rerr := e.templates.WriteError(w, status, data); rerr != nil {
		e.logger.Error("rendering error page", zap.Error(rerr))
	}
}

func (e *Engine) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		e.logger.Debug("callback request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; script-src 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "Not Found",
		"message": "OAuth callback endpoint not found",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
