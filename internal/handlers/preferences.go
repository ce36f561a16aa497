package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/retenify/retenify/internal/cache"
)

type consentRequest struct {
	Accepted *bool `json:"accepted"`
}

type consentResponse struct {
	Consent string `json:"consent"`
}

type preferences struct {
	SidebarCollapsed *bool        `json:"sidebarCollapsed,omitempty"`
	Theme            *cache.Theme `json:"theme,omitempty"`
	RecentSearches   []string     `json:"recentSearches,omitempty"`
}

type pageViewRequest struct {
	Page string `json:"page"`
}

// HandleGetConsent reports the storage consent state: granted, declined or unset.
func (m Main) HandleGetConsent(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, consentResponse{Consent: m.cache.Consent().String()})
}

// HandleSetConsent grants or declines storage consent. Declining purges everything stored.
func (m Main) HandleSetConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !m.decode(w, r, &req) {
		return
	}
	if req.Accepted == nil {
		m.writeError(w, http.StatusBadRequest, apiError{
			Code:    codeInvalidInput,
			Message: "Field accepted is required and must be a boolean.",
		})
		return
	}

	var err error
	if *req.Accepted {
		err = m.cache.Accept(r.Context())
	} else {
		err = m.cache.Decline(r.Context())
	}
	if err != nil {
		m.logger.Error("Failed to record consent",
			slog.Bool("accepted", *req.Accepted),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	m.logger.Info("Consent recorded", slog.String("consent", m.cache.Consent().String()))
	m.writeJSON(w, http.StatusOK, consentResponse{Consent: m.cache.Consent().String()})
}

func (m Main) preferences() preferences {
	var p preferences
	if collapsed, ok := m.cache.SidebarState(); ok {
		p.SidebarCollapsed = &collapsed
	}
	if theme, ok := m.cache.Theme(); ok {
		p.Theme = &theme
	}
	if searches, ok := m.cache.RecentSearches(); ok {
		p.RecentSearches = searches
	}
	return p
}

// HandleGetPreferences returns the stored console preferences. Unset preferences are omitted.
func (m Main) HandleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.preferences())
}

// HandleSetPreferences stores the preferences present in the body and returns the result.
func (m Main) HandleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferences
	if !m.decode(w, r, &req) {
		return
	}

	if req.Theme != nil && !req.Theme.Valid() {
		m.writeError(w, http.StatusBadRequest, apiError{
			Code:    codeInvalidPreference,
			Message: "Theme must be one of light, dark or system.",
		})
		return
	}

	ctx := r.Context()
	var err error
	if req.SidebarCollapsed != nil {
		err = m.cache.SetSidebarState(ctx, *req.SidebarCollapsed)
	}
	if err == nil && req.Theme != nil {
		err = m.cache.SetTheme(ctx, *req.Theme)
	}
	if err == nil && req.RecentSearches != nil {
		err = m.cache.SetRecentSearches(ctx, req.RecentSearches)
	}
	if err != nil {
		m.logger.Error("Failed to store preferences", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	m.writeJSON(w, http.StatusOK, m.preferences())
}

// HandleAnalytics returns the usage counters collected while consent was granted.
func (m Main) HandleAnalytics(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.cache.Analytics())
}

// HandlePageView counts a visit to the page in the body. Nothing is recorded without consent.
func (m Main) HandlePageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if !m.decode(w, r, &req) {
		return
	}
	page := strings.TrimSpace(req.Page)
	if page == "" {
		m.writeError(w, http.StatusBadRequest, apiError{
			Code:    codeInvalidInput,
			Message: "Page is required.",
		})
		return
	}

	if err := m.cache.TrackPageView(r.Context(), page); err != nil {
		m.logger.Error("Failed to track page view",
			slog.String("page", page),
			slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
