package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/targetlock/internal/pose"
	"github.com/ayusman/targetlock/internal/store"
)

// ProfileHandler handles HTTP requests for camera profiles.
type ProfileHandler struct {
	store    *store.Store
	pipeline Pipeline
}

// NewProfileHandler creates a new ProfileHandler. pipeline may be nil, in
// which case profiles cannot be applied.
func NewProfileHandler(s *store.Store, p Pipeline) *ProfileHandler {
	return &ProfileHandler{store: s, pipeline: p}
}

// ServeHTTP routes /api/profiles, /api/profiles/{id} and /api/profiles/{id}/apply.
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/profiles")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/apply"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.apply(w, r, id)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type profileRequest struct {
	Name       string          `json:"name"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Intrinsics pose.Intrinsics `json:"intrinsics"`
}

type listProfilesResponse struct {
	Profiles []*store.Profile `json:"profiles"`
	Active   string           `json:"active,omitempty"`
}

func (req profileRequest) validate() string {
	if strings.TrimSpace(req.Name) == "" {
		return "Name is required"
	}
	if err := req.Intrinsics.Validate(); err != nil {
		return err.Error()
	}
	return ""
}

// list handles GET /api/profiles.
func (h *ProfileHandler) list(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.Profiles().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	resp := listProfilesResponse{Profiles: make([]*store.Profile, 0, len(profiles))}
	resp.Profiles = append(resp.Profiles, profiles...)
	if active, err := h.store.Settings().Get(store.SettingActiveProfile); err == nil {
		resp.Active = active
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/profiles/{id}.
func (h *ProfileHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.store.Profiles().GetByID(id)
	if err != nil {
		h.storeError(w, err, "Failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// create handles POST /api/profiles.
func (h *ProfileHandler) create(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.store.Profiles().GetByName(req.Name); err == nil {
		writeError(w, http.StatusConflict, "Profile with this name already exists")
		return
	}

	p := &store.Profile{
		Name:       req.Name,
		Width:      req.Width,
		Height:     req.Height,
		Intrinsics: req.Intrinsics,
	}
	if err := h.store.Profiles().Create(p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create profile")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// update handles PUT /api/profiles/{id}.
func (h *ProfileHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := h.store.Profiles().GetByID(id)
	if err != nil {
		h.storeError(w, err, "Failed to get profile")
		return
	}
	if other, err := h.store.Profiles().GetByName(req.Name); err == nil && other.ID != id {
		writeError(w, http.StatusConflict, "Profile with this name already exists")
		return
	}

	p.Name = req.Name
	p.Width = req.Width
	p.Height = req.Height
	p.Intrinsics = req.Intrinsics
	if err := h.store.Profiles().Update(p); err != nil {
		h.storeError(w, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// delete handles DELETE /api/profiles/{id}. Deleting the active profile
// clears the active setting but leaves the tracker's intrinsics in place.
func (h *ProfileHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Profiles().Delete(id); err != nil {
		h.storeError(w, err, "Failed to delete profile")
		return
	}
	if active, err := h.store.Settings().Get(store.SettingActiveProfile); err == nil && active == id {
		h.store.Settings().Delete(store.SettingActiveProfile)
	}
	w.WriteHeader(http.StatusNoContent)
}

// apply handles POST /api/profiles/{id}/apply: the profile's intrinsics become
// the tracker's and the profile is remembered as active.
func (h *ProfileHandler) apply(w http.ResponseWriter, r *http.Request, id string) {
	if h.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}

	p, err := h.store.Profiles().GetByID(id)
	if err != nil {
		h.storeError(w, err, "Failed to get profile")
		return
	}
	if err := h.pipeline.UpdateIntrinsics(p.Intrinsics); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Settings().Set(store.SettingActiveProfile, p.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save active profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}
	writeError(w, http.StatusInternalServerError, msg)
}
