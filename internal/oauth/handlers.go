package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/signet/internal/account"
	apperrors "github.com/louisbranch/signet/internal/platform/errors"
)

// stateHeader exposes the CSRF state on the initiation response so
// non-browser clients can correlate the later callback.
const stateHeader = "X-CSRF-Token"

// Server exposes the provider login flow over HTTP.
type Server struct {
	config Config
	flow   *Flow
	logger *log.Logger
}

// NewServer creates the HTTP surface for the login flow. A nil flow means no
// provider is configured and only the health route is served.
func NewServer(config Config, flow *Flow, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{config: config, flow: flow, logger: logger}
}

// RegisterRoutes attaches login endpoints to mux. When no provider is
// configured the login routes are omitted entirely rather than returning
// runtime errors.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/up", s.handleHealth)
	if s.config.Provider == nil || s.flow == nil {
		s.logger.Printf("oauth provider is not configured; login routes disabled")
		return
	}
	mux.HandleFunc("/auth/", s.handleAuth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleAuth dispatches /auth/{provider} and /auth/{provider}/callback.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auth/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] == s.config.Provider.Name:
		s.handleBegin(w, r)
	case len(parts) == 2 && parts[0] == s.config.Provider.Name && parts[1] == "callback":
		s.handleCallback(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleBegin starts a login by redirecting to the provider. The redirect is
// only sent after the correlation entry is durably stored.
func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	redirectURL, state, err := s.flow.BeginLogin(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set(stateHeader, state)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// callbackResponse is the JSON body returned on a completed login.
type callbackResponse struct {
	User  account.Account `json:"user"`
	Token string          `json:"token"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		msg := providerErr
		if desc := query.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		s.writeError(w, r, apperrors.New(apperrors.CodeLoginProviderRejected, msg))
		return
	}

	state := query.Get("state")
	code := query.Get("code")
	if state == "" || code == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeLoginStateInvalid, "invalid or expired request"))
		return
	}

	result, err := s.flow.CompleteLogin(r.Context(), state, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusSeeOther)
	if err := json.NewEncoder(w).Encode(callbackResponse{User: result.Account, Token: result.Token}); err != nil {
		s.logger.Printf("oauth: write callback response: %v", err)
	}
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeError renders a domain error. Client-caused failures surface their
// message; everything else gets a generic description so internals never
// leak to the browser.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatusOf(err)

	description := responseMessage(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("oauth: %s %s failed: %v", r.Method, r.URL.Path, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: string(code), Description: description})
}

func responseMessage(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindClient:
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return appErr.Message
		}
		return "invalid request"
	case apperrors.KindAuthentication:
		return "provider rejected the credential"
	case apperrors.KindInfrastructure:
		return "service temporarily unavailable"
	case apperrors.KindProtocol:
		return "unexpected provider response"
	default:
		return "internal error"
	}
}

// StartCleanup periodically removes expired login correlation entries until
// the context ends.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s.flow == nil || s.flow.states == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.flow.states.DeleteExpiredLoginStates(ctx, time.Now().UTC()); err != nil {
					s.logger.Printf("oauth: cleanup expired login states: %v", err)
				}
			}
		}
	}()
}
