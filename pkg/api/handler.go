package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/accesscode"
)

const (
	maxUserIDLen      = 255
	maxListLimit      = 500
	defaultListLimit  = 100
	maxCodeBodyBytes  = 4 << 10
	corsAllowHeaders  = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods  = "POST, OPTIONS"
	errMsgCodesOff    = "access codes are not configured"
	errMsgTokenFailed = "failed to generate token"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("admin access required")
)

// Handler provides HTTP endpoints for access inspection and access codes
type Handler struct {
	config Config
}

// GetAccess returns the caller's access standing
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.user(r)
	if !ok {
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
		return
	}

	res := h.config.Resolver.Resolve(r.Context(), user)
	writeJSON(w, http.StatusOK, AccessResponse{
		HasAccess:    res.HasAccess,
		IsAdmin:      res.IsAdmin,
		Subscription: res.Subscription,
	})
}

// AdminSubscriptions lists subscriptions for the admin dashboard.
// Query parameters: status, email (substring), limit.
func (h *Handler) AdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	// 1. Authenticate and authorize
	user, ok := h.user(r)
	if !ok {
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
		return
	}
	if res := h.config.Resolver.Resolve(ctx, user); !res.IsAdmin {
		h.handleError(w, r, errForbidden, http.StatusForbidden)
		return
	}

	// 2. Parse filter
	filter, err := parseFilter(r)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	// 3. Query
	subs, err := h.config.Subscriptions.ListSubscriptions(ctx, filter)
	if err != nil {
		h.config.Logger.Error("failed to list subscriptions", access.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("failed to list subscriptions"), http.StatusInternalServerError)
		return
	}
	counts, err := h.config.Subscriptions.CountSubscriptionsByStatus(ctx)
	if err != nil {
		h.config.Logger.Error("failed to count subscriptions", access.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("failed to count subscriptions"), http.StatusInternalServerError)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if subs == nil {
		subs = []*access.Subscription{}
	}

	writeJSON(w, http.StatusOK, SubscriptionsResponse{
		Subscriptions: subs,
		Counts:        counts,
		Total:         total,
	})
}

// GenerateToken issues (or reuses) the caller's SOPH access code
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.config.Codes == nil {
		h.handleError(w, r, errors.New(errMsgCodesOff), http.StatusServiceUnavailable)
		return
	}

	user, ok := h.user(r)
	if !ok {
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
		return
	}

	token, err := h.config.Codes.Issue(r.Context(), user)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, token)
	case errors.Is(err, accesscode.ErrAccessDenied):
		h.handleError(w, r, err, http.StatusForbidden)
	case errors.Is(err, access.ErrInvalidUser):
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
	default:
		h.config.Logger.Error("failed to issue access code",
			access.Field{Key: "user_id", Value: user.ID},
			access.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, errors.New(errMsgTokenFailed), http.StatusInternalServerError)
	}
}

// ValidateCode reports whether the posted code is valid.
// Any failure short of a wrong method degrades to {"valid": false}.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req ValidateCodeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCodeBodyBytes))
	if err != nil || json.Unmarshal(body, &req) != nil || h.config.Codes == nil {
		writeJSON(w, http.StatusOK, ValidateCodeResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, ValidateCodeResponse{Valid: h.config.Codes.Validate(r.Context(), req.Code)})
}

func (h *Handler) user(r *http.Request) (access.User, bool) {
	user, ok := h.config.GetUser(r)
	if !ok || user.ID == "" || len(user.ID) > maxUserIDLen {
		return access.User{}, false
	}
	return user, true
}

func parseFilter(r *http.Request) (access.SubscriptionFilter, error) {
	q := r.URL.Query()
	filter := access.SubscriptionFilter{
		Email: strings.TrimSpace(q.Get("email")),
		Limit: defaultListLimit,
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := access.Status(strings.ToLower(raw))
		if !status.Valid() {
			return filter, fmt.Errorf("invalid status %q", raw)
		}
		filter.Status = status
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			return filter, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started
		return
	}
}

// handleError handles errors using custom handler or default JSON response
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	writeJSON(w, statusCode, map[string]string{
		"error": err.Error(),
	})
}
