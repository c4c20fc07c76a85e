package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	log           zerolog.Logger
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		log:           logger,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		// Public catalogue. A valid token only widens what staff can see.
		r.Group(func(r chi.Router) {
			r.Use(a.optionalAuth)
			r.Get("/stores", a.handleListStores)
			r.Get("/stores/{storeID}", a.handleGetStore)
			r.Get("/stores/{storeID}/open", a.handleStoreOpen)
			r.Get("/stores/{storeID}/products", a.handleListProducts)
			r.Get("/products/{productID}", a.handleGetProduct)
			r.Get("/products/{productID}/discount", a.handleProductDiscount)
			r.Get("/discounts", a.handleListDiscounts)
			r.Get("/reviews", a.handleListReviews)
			r.Get("/reviews/{reviewID}", a.handleGetReview)
			r.Get("/stores/{storeID}/reviews", a.handleStoreReviews)
			r.Get("/users/{userID}/reviews", a.handleUserReviews)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)
			r.Delete("/users/me", a.handleDeleteMe)
			r.Delete("/users/{userID}", a.handleDeleteUser)

			r.Post("/stores", a.handleCreateStore)
			r.Patch("/stores/{storeID}", a.handleUpdateStore)
			r.Put("/stores/{storeID}/owner", a.handleAssignOwner)
			r.Post("/stores/{storeID}/cashiers", a.handleAddCashier)
			r.Get("/stores/{storeID}/staff", a.handleListStaff)
			r.Delete("/stores/{storeID}/staff/{userID}", a.handleRemoveStaff)
			r.Post("/stores/{storeID}/products", a.handleCreateProduct)
			r.Get("/stores/{storeID}/orders", a.handleStoreOrders)
			r.Get("/stores/{storeID}/sales", a.handleStoreSales)
			r.Get("/stores/{storeID}/points", a.handleStorePoints)
			r.Get("/stores/{storeID}/points/me", a.handleMyBalance)

			r.Patch("/products/{productID}", a.handleUpdateProduct)
			r.Delete("/products/{productID}", a.handleDeleteProduct)

			r.Post("/orders", a.handleCreateOrder)
			r.Get("/orders/mine", a.handleMyOrders)
			r.Get("/orders/{orderID}", a.handleGetOrder)
			r.Post("/orders/{orderID}/advance", a.handleAdvanceOrder)
			r.Put("/orders/{orderID}/items", a.handleUpdateOrderItems)
			r.Post("/orders/{orderID}/cancel", a.handleCancelOrder)

			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/mine", a.handleMySales)
			r.Get("/sales/{saleID}", a.handleGetSale)

			r.Post("/points/redeem", a.handleRedeem)

			r.Post("/discounts", a.handleCreateDiscount)
			r.Delete("/discounts/{discountID}", a.handleDeleteDiscount)

			r.Post("/reviews", a.handleCreateReview)
			r.Delete("/reviews/{reviewID}", a.handleDeleteReview)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

// actorSlot lets the auth middlewares, which run after requestLogger,
// report who made the request.
type actorSlot struct{ id string }

type actorSlotKey struct{}

func withActorSlot(r *http.Request) (*http.Request, *actorSlot) {
	slot := &actorSlot{}
	return r.WithContext(context.WithValue(r.Context(), actorSlotKey{}, slot)), slot
}

func recordActor(r *http.Request, actor domain.Actor) *http.Request {
	if slot, ok := r.Context().Value(actorSlotKey{}).(*actorSlot); ok {
		slot.id = actor.ID
	}
	return r.WithContext(service.WithActor(r.Context(), actor))
}

func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authorization[len("Bearer "):]), true
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, recordActor(r, actor))
	})
}

// optionalAuth attaches the actor when a valid token is present and otherwise
// serves the request anonymously.
func (a *API) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, recordActor(r, actor))
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		r, slot := withActorSlot(r)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := a.log.Info()
		if status >= 500 {
			event = a.log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Str("actor", slot.id).
			Dur("duration", time.Since(startedAt)).
			Msg("request completed")
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.log.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Interface("panic", rec).
					Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	user, err := a.service.GetUser(r.Context(), actor.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// writeServiceError maps error kinds to status codes. Anything unrecognised
// is a 500 with a generic body.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidRequest):
		a.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrInsufficientStock):
		a.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, store.ErrForbidden):
		a.writeError(w, r, http.StatusForbidden, err)
	case errors.Is(err, store.ErrUnauthorized):
		a.writeError(w, r, http.StatusUnauthorized, err)
	default:
		a.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 4xx messages are client-facing; 5xx bodies never carry internal detail.
	msg := err.Error()
	if status >= 500 {
		a.log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
