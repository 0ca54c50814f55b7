// Package api provides HTTP handlers for the dispatch server REST API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	publisher           *dispatch.EventPublisher
	subscriptionManager *dispatch.SubscriptionManager
	service             *dispatch.DispatchService
	logger              dispatch.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	publisher *dispatch.EventPublisher,
	subscriptionManager *dispatch.SubscriptionManager,
	service *dispatch.DispatchService,
	logger dispatch.Logger,
) *Handler {
	return &Handler{
		publisher:           publisher,
		subscriptionManager: subscriptionManager,
		service:             service,
		logger:              logger,
	}
}

// Routes builds the chi router for the API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.HandlePublish)
		r.Get("/health", h.HandleHealth)

		r.Route("/tenants/{tenant}/subscriptions", func(r chi.Router) {
			r.Post("/", h.HandleCreateSubscription)
			r.Get("/", h.HandleListSubscriptions)

			r.Route("/{owner}/{name}", func(r chi.Router) {
				r.Get("/", h.HandleGetSubscription)
				r.Patch("/", h.HandlePatchSubscription)
				r.Delete("/", h.HandleDeleteSubscription)
				r.Post("/enable", h.HandleEnableSubscription)
				r.Post("/disable", h.HandleDisableSubscription)
				r.Put("/ttl", h.HandleUpdateTTL)
			})
		})
	})
	return r
}

// PublishEventRequest represents an event publish request.
type PublishEventRequest struct {
	Tenant                             string                 `json:"tenant"`
	User                               string                 `json:"user"`
	Source                             string                 `json:"source"`
	Type                               string                 `json:"type"`
	Subject                            string                 `json:"subject"`
	Data                               map[string]interface{} `json:"data"`
	SeriesID                           string                 `json:"seriesId"`
	Timestamp                          time.Time              `json:"timestamp"`
	DeleteSubscriptionsMatchingSubject bool                   `json:"deleteSubscriptionsMatchingSubject"`
	EndSeries                          bool                   `json:"endSeries"`
}

// CreateSubscriptionRequest represents a subscription creation request.
type CreateSubscriptionRequest struct {
	Owner         string                 `json:"owner"`
	Name          string                 `json:"name"`
	TypeFilter    string                 `json:"typeFilter"`
	SubjectFilter string                 `json:"subjectFilter"`
	Targets       []model.DeliveryTarget `json:"deliveryTargets"`
	TTLMinutes    int                    `json:"ttlMinutes"`
	Notes         string                 `json:"notes"`
}

// PatchSubscriptionRequest represents a partial subscription update.
type PatchSubscriptionRequest struct {
	TypeFilter    *string                `json:"typeFilter"`
	SubjectFilter *string                `json:"subjectFilter"`
	Targets       []model.DeliveryTarget `json:"deliveryTargets"`
	Notes         *string                `json:"notes"`
}

// UpdateTTLRequest represents a TTL update.
type UpdateTTLRequest struct {
	TTLMinutes int `json:"ttlMinutes"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandlePublish handles POST /api/v1/events
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	dataJSON, err := json.Marshal(req.Data)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to serialize data", "SERIALIZATION_ERROR")
		return
	}

	event, err := h.publisher.Publish(r.Context(), dispatch.PublishRequest{
		Tenant:                             req.Tenant,
		User:                               req.User,
		Source:                             req.Source,
		Type:                               req.Type,
		Subject:                            req.Subject,
		Data:                               string(dataJSON),
		SeriesID:                           req.SeriesID,
		Timestamp:                          req.Timestamp,
		DeleteSubscriptionsMatchingSubject: req.DeleteSubscriptionsMatchingSubject,
		EndSeries:                          req.EndSeries,
	})
	if err != nil {
		if dispatch.IsValidation(err) {
			h.respondError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Errorf("Failed to publish event: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to publish event", "PUBLISH_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusAccepted, event, "Event accepted")
}

// HandleCreateSubscription handles POST /api/v1/tenants/{tenant}/subscriptions
func (h *Handler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	sub, err := h.subscriptionManager.Create(r.Context(), dispatch.CreateRequest{
		Tenant:        chi.URLParam(r, "tenant"),
		Owner:         req.Owner,
		Name:          req.Name,
		TypeFilter:    req.TypeFilter,
		SubjectFilter: req.SubjectFilter,
		Targets:       req.Targets,
		TTLMinutes:    req.TTLMinutes,
		Notes:         req.Notes,
	})
	if err != nil {
		if dispatch.IsValidation(err) {
			h.respondError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Errorf("Failed to create subscription: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to create subscription", "CREATE_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusCreated, sub, "Subscription created successfully")
}

// HandleListSubscriptions handles GET /api/v1/tenants/{tenant}/subscriptions
func (h *Handler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	filter := dispatch.SubscriptionFilter{
		Tenant:      chi.URLParam(r, "tenant"),
		Owner:       r.URL.Query().Get("owner"),
		TypeFilter:  r.URL.Query().Get("typeFilter"),
		EnabledOnly: r.URL.Query().Get("enabled") == "true",
	}

	subs, err := h.subscriptionManager.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("Failed to list subscriptions: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to list subscriptions", "LIST_ERROR")
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}

	h.respondSuccess(w, http.StatusOK, subs, "")
}

// HandleGetSubscription handles GET /api/v1/tenants/{tenant}/subscriptions/{owner}/{name}
func (h *Handler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptionManager.Get(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		h.respondSubscriptionError(w, err, "GET_ERROR", "Failed to load subscription")
		return
	}
	h.respondSuccess(w, http.StatusOK, sub, "")
}

// HandlePatchSubscription handles PATCH /api/v1/tenants/{tenant}/subscriptions/{owner}/{name}
func (h *Handler) HandlePatchSubscription(w http.ResponseWriter, r *http.Request) {
	var req PatchSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	sub, err := h.subscriptionManager.Patch(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"),
		dispatch.PatchRequest{
			TypeFilter:    req.TypeFilter,
			SubjectFilter: req.SubjectFilter,
			Targets:       req.Targets,
			Notes:         req.Notes,
		})
	if err != nil {
		if dispatch.IsValidation(err) {
			h.respondError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.respondSubscriptionError(w, err, "PATCH_ERROR", "Failed to patch subscription")
		return
	}
	h.respondSuccess(w, http.StatusOK, sub, "Subscription updated successfully")
}

// HandleDeleteSubscription handles DELETE /api/v1/tenants/{tenant}/subscriptions/{owner}/{name}
func (h *Handler) HandleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	err := h.subscriptionManager.Delete(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		h.respondSubscriptionError(w, err, "DELETE_ERROR", "Failed to delete subscription")
		return
	}
	h.respondSuccess(w, http.StatusOK, nil, "Subscription deleted successfully")
}

// HandleEnableSubscription handles POST .../enable
func (h *Handler) HandleEnableSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptionManager.Enable(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		h.respondSubscriptionError(w, err, "ENABLE_ERROR", "Failed to enable subscription")
		return
	}
	h.respondSuccess(w, http.StatusOK, sub, "Subscription enabled")
}

// HandleDisableSubscription handles POST .../disable
func (h *Handler) HandleDisableSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptionManager.Disable(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
	if err != nil {
		h.respondSubscriptionError(w, err, "DISABLE_ERROR", "Failed to disable subscription")
		return
	}
	h.respondSuccess(w, http.StatusOK, sub, "Subscription disabled")
}

// HandleUpdateTTL handles PUT .../ttl
func (h *Handler) HandleUpdateTTL(w http.ResponseWriter, r *http.Request) {
	var req UpdateTTLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	sub, err := h.subscriptionManager.UpdateTTL(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"), req.TTLMinutes)
	if err != nil {
		h.respondSubscriptionError(w, err, "TTL_ERROR", "Failed to update TTL")
		return
	}
	h.respondSuccess(w, http.StatusOK, sub, "TTL updated")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"state":     h.service.State().String(),
		"timestamp": time.Now().UTC(),
		"version":   "0.1.0",
	}
	h.respondSuccess(w, http.StatusOK, health, "")
}

// respondSubscriptionError maps ErrNoData to 404 and everything else to 500.
func (h *Handler) respondSubscriptionError(w http.ResponseWriter, err error, code, message string) {
	if dispatch.IsNoData(err) {
		h.respondError(w, http.StatusNotFound, "Subscription not found", "NOT_FOUND")
		return
	}
	h.logger.Errorf("%s: %v", message, err)
	h.respondError(w, http.StatusInternalServerError, message, code)
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
