// Package v1 is the admin HTTP surface: metrics counts, the price
// observation CSV export, a health probe, the click-tracking redirect and
// the live deal feed.
package v1

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"mandi-monitor/chat"
	"mandi-monitor/store"
)

// APIPathPrefix defines the v1 API path prefix.
const APIPathPrefix = "/api/v1"

// Admin is the read/append surface the router needs from the store.
type Admin interface {
	Metrics(ctx context.Context) (store.Metrics, error)
	WritePricesCSV(ctx context.Context, w io.Writer) error
	AddClick(ctx context.Context, watchID int64, asin string, at time.Time) error
}

// Config carries the router's credentials and feature switches.
type Config struct {
	AdminUser        string
	AdminPass        string
	EnablePrometheus bool
}

// Inbound accepts watch-creation text on behalf of a chat user.
type Inbound interface {
	HandleWatchText(ctx context.Context, userID int64, text string) error
}

// Router defines the v1 admin router, wrapping a mux subrouter with CORS and
// basic auth middleware.
type Router struct {
	logger  zerolog.Logger
	cfg     Config
	admin   Admin
	builder *chat.Builder
	hub     *Hub
	inbound Inbound
}

func New(logger zerolog.Logger, cfg Config, admin Admin, builder *chat.Builder, hub *Hub, inbound Inbound) *Router {
	return &Router{
		logger:  logger.With().Str("module", "router").Logger(),
		cfg:     cfg,
		admin:   admin,
		builder: builder,
		hub:     hub,
		inbound: inbound,
	}
}

// RegisterRoutes mounts all v1 routes on the given router with the supplied
// path prefix. The health probe, the click redirect and the live feed are
// public; everything else sits behind basic auth.
func (r *Router) RegisterRoutes(rtr *mux.Router, prefix string) {
	v1Router := rtr.PathPrefix(prefix).Subrouter()

	mChain := alice.New(cors.Default().Handler)
	authChain := mChain.Append(r.basicAuth)

	v1Router.Handle(
		"/healthz",
		mChain.Then(http.HandlerFunc(r.healthzHandler)),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/click/{token}",
		mChain.Then(http.HandlerFunc(r.clickHandler)),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/live",
		mChain.Then(http.HandlerFunc(r.hub.ServeHTTP)),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/metrics",
		authChain.Then(http.HandlerFunc(r.metricsHandler)),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/prices.csv",
		authChain.Then(http.HandlerFunc(r.pricesCSVHandler)),
	).Methods(http.MethodGet)

	v1Router.Handle(
		"/watches",
		authChain.Then(http.HandlerFunc(r.createWatchHandler)),
	).Methods(http.MethodPost)

	if r.cfg.EnablePrometheus {
		rtr.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

func (r *Router) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(r.cfg.AdminUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(r.cfg.AdminPass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// healthzHandler must never touch the database; it answers even when the
// store is down.
func (r *Router) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
}

func (r *Router) metricsHandler(w http.ResponseWriter, req *http.Request) {
	m, err := r.admin.Metrics(req.Context())
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to read admin metrics")
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) pricesCSVHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="prices.csv"`)
	if err := r.admin.WritePricesCSV(req.Context(), w); err != nil {
		// Headers may already be gone; log and abort the stream.
		r.logger.Error().Err(err).Msg("price csv export failed")
	}
}

// clickHandler records the click and forwards the user to the marketplace.
// Malformed tokens 404; there is no ASIN to redirect to.
func (r *Router) clickHandler(w http.ResponseWriter, req *http.Request) {
	token := mux.Vars(req)["token"]
	watchID, asin, err := chat.DecodeClickToken(token)
	if err != nil {
		r.logger.Debug().Err(err).Str("token", token).Msg("rejecting malformed click token")
		writeError(w, http.StatusNotFound, "unknown link")
		return
	}
	if err := r.admin.AddClick(req.Context(), watchID, asin, time.Now()); err != nil {
		// The redirect matters more than the analytics row.
		r.logger.Error().Err(err).Int64("watch", watchID).Str("asin", asin).Msg("failed to record click")
	}
	http.Redirect(w, req, r.builder.AffiliateURL(asin), http.StatusFound)
}

// createWatchHandler lets operators register a watch on a user's behalf,
// running the same parse-persist-dispatch path as the chat front-end. The
// first evaluation lands on the worker pool, never inside this handler.
func (r *Router) createWatchHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		UserID int64  `json:"user_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.UserID == 0 || body.Text == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}
	if err := r.inbound.HandleWatchText(req.Context(), body.UserID, body.Text); err != nil {
		r.logger.Error().Err(err).Int64("user", body.UserID).Msg("watch creation failed")
		writeError(w, http.StatusInternalServerError, "watch creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
