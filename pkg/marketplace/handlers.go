package marketplace

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/httputil"
	"github.com/platinummonkey/bazaar/pkg/middleware"
)

// DefaultMaxBundleBytes bounds a version upload when no limit is configured
const DefaultMaxBundleBytes = 64 << 20

// multipart parts beyond this are spooled to disk
const multipartMemory = 8 << 20

// Handlers provides HTTP handlers for the marketplace API
type Handlers struct {
	service        *Service
	authn          *middleware.Authenticator
	maxBundleBytes int64
}

// NewHandlers creates new marketplace handlers
func NewHandlers(service *Service, authn *middleware.Authenticator, maxBundleBytes int64) *Handlers {
	if maxBundleBytes <= 0 {
		maxBundleBytes = DefaultMaxBundleBytes
	}
	return &Handlers{
		service:        service,
		authn:          authn,
		maxBundleBytes: maxBundleBytes,
	}
}

// RegisterRoutes registers all marketplace routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	required := func(fn http.HandlerFunc) http.Handler { return h.authn.Required(fn) }
	optional := func(fn http.HandlerFunc) http.Handler { return h.authn.Optional(fn) }

	api := r.PathPrefix("/api/v1").Subrouter()

	// Publishers
	api.Handle("/publishers", required(h.RegisterPublisher)).Methods("POST")
	api.Handle("/publishers/me", required(h.GetMyPublisher)).Methods("GET")
	api.Handle("/publishers/me", required(h.UpdatePublisher)).Methods("PATCH")
	api.Handle("/publishers/me/api-keys", required(h.CreateAPIKey)).Methods("POST")
	api.Handle("/publishers/me/api-keys", required(h.ListAPIKeys)).Methods("GET")
	api.Handle("/publishers/me/api-keys/{id}", required(h.RevokeAPIKey)).Methods("DELETE")
	api.HandleFunc("/publishers/{slug}", h.GetPublisher).Methods("GET")

	// Catalog
	api.HandleFunc("/categories", h.ListCategories).Methods("GET")
	api.Handle("/extensions", required(h.CreateExtension)).Methods("POST")
	api.Handle("/extensions/{slug}", optional(h.GetExtension)).Methods("GET")
	api.Handle("/extensions/{slug}", required(h.UpdateExtension)).Methods("PATCH")

	// Versions
	api.Handle("/extensions/{slug}/versions", required(h.CreateVersion)).Methods("POST")
	api.Handle("/extensions/{slug}/versions", optional(h.ListVersions)).Methods("GET")
	api.Handle("/extensions/{slug}/versions/{version}", optional(h.GetVersion)).Methods("GET")
	api.Handle("/extensions/{slug}/versions/{version}/publish", required(h.PublishVersion)).Methods("POST")
	api.Handle("/extensions/{slug}/versions/{version}/download", optional(h.DownloadVersion)).Methods("GET")

	// Reviews
	api.Handle("/extensions/{slug}/reviews", optional(h.ListReviews)).Methods("GET")
	api.Handle("/extensions/{slug}/reviews/me", required(h.GetMyReview)).Methods("GET")
	api.Handle("/extensions/{slug}/reviews/me", required(h.UpsertReview)).Methods("PUT")
	api.Handle("/extensions/{slug}/reviews/me", required(h.DeleteReview)).Methods("DELETE")
}

// RegisterPublisher handles POST /api/v1/publishers
func (h *Handlers) RegisterPublisher(w http.ResponseWriter, r *http.Request) {
	var req RegisterPublisherRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	publisher, err := h.service.RegisterPublisher(r.Context(), middleware.GetIdentity(r).SubjectID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, publisher)
}

// GetMyPublisher handles GET /api/v1/publishers/me
func (h *Handlers) GetMyPublisher(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, publisher)
}

// UpdatePublisher handles PATCH /api/v1/publishers/me
func (h *Handlers) UpdatePublisher(w http.ResponseWriter, r *http.Request) {
	var req UpdatePublisherRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	publisher, err := h.service.UpdatePublisher(r.Context(), middleware.GetIdentity(r).SubjectID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, publisher)
}

// GetPublisher handles GET /api/v1/publishers/{slug}
func (h *Handlers) GetPublisher(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.GetPublisherBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, publisher)
}

// CreateAPIKey handles POST /api/v1/publishers/me/api-keys
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	key, err := h.service.CreateAPIKey(r.Context(), publisher.ID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteCreated(w, key)
}

// ListAPIKeys handles GET /api/v1/publishers/me/api-keys
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	keys, err := h.service.ListAPIKeys(r.Context(), publisher.ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"api_keys": keys})
}

// RevokeAPIKey handles DELETE /api/v1/publishers/me/api-keys/{id}
func (h *Handlers) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.service.RevokeAPIKey(r.Context(), publisher.ID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListCategories handles GET /api/v1/categories
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"categories": categories})
}

// CreateExtension handles POST /api/v1/extensions
func (h *Handlers) CreateExtension(w http.ResponseWriter, r *http.Request) {
	var req CreateExtensionRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	ext, err := h.service.CreateExtension(r.Context(), publisher.ID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ext)
}

// GetExtension handles GET /api/v1/extensions/{slug}
func (h *Handlers) GetExtension(w http.ResponseWriter, r *http.Request) {
	ext, err := h.visibleExtension(r, mux.Vars(r)["slug"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ext)
}

// UpdateExtension handles PATCH /api/v1/extensions/{slug}
func (h *Handlers) UpdateExtension(w http.ResponseWriter, r *http.Request) {
	var req UpdateExtensionRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	ext, err := h.service.UpdateExtension(r.Context(), publisher.ID, mux.Vars(r)["slug"], req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ext)
}

// CreateVersion handles POST /api/v1/extensions/{slug}/versions.
// The body is multipart/form-data with a "bundle" file part and the fields
// version, manifest, changelog, min_app_version, max_app_version and
// permissions (repeatable or comma separated).
func (h *Handlers) CreateVersion(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	req, err := h.parseVersionUpload(w, r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	version, err := h.service.CreateVersion(r.Context(), publisher.ID, mux.Vars(r)["slug"], *req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, version)
}

func (h *Handlers) parseVersionUpload(w http.ResponseWriter, r *http.Request) (*CreateVersionRequest, error) {
	// room for the form fields around the bundle
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBundleBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperrors.InvalidInput("upload exceeds %d bytes", h.maxBundleBytes)
		}
		return nil, apperrors.InvalidInput("invalid multipart upload: %v", err)
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("bundle")
	if err != nil {
		return nil, apperrors.InvalidInput("bundle file is required")
	}
	defer file.Close()
	if header.Size > h.maxBundleBytes {
		return nil, apperrors.InvalidInput("bundle exceeds %d bytes", h.maxBundleBytes)
	}

	bundle, err := io.ReadAll(io.LimitReader(file, h.maxBundleBytes+1))
	if err != nil {
		return nil, apperrors.InvalidInput("failed to read bundle: %v", err)
	}
	if int64(len(bundle)) > h.maxBundleBytes {
		return nil, apperrors.InvalidInput("bundle exceeds %d bytes", h.maxBundleBytes)
	}

	var permissions []string
	for _, value := range r.MultipartForm.Value["permissions"] {
		permissions = append(permissions, strings.Split(value, ",")...)
	}

	return &CreateVersionRequest{
		Version:       strings.TrimSpace(r.FormValue("version")),
		Bundle:        bundle,
		Manifest:      r.FormValue("manifest"),
		Changelog:     r.FormValue("changelog"),
		MinAppVersion: strings.TrimSpace(r.FormValue("min_app_version")),
		MaxAppVersion: strings.TrimSpace(r.FormValue("max_app_version")),
		Permissions:   permissions,
	}, nil
}

// ListVersions handles GET /api/v1/extensions/{slug}/versions. Drafts are
// included only for the owning publisher.
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if _, err := h.visibleExtension(r, slug); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	versions, err := h.service.ListVersions(r.Context(), slug, !h.ownsExtension(r, slug))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"versions": versions})
}

// GetVersion handles GET /api/v1/extensions/{slug}/versions/{version}
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.visibleExtension(r, vars["slug"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	version, err := h.service.GetVersion(r.Context(), vars["slug"], vars["version"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if version.Status != VersionStatusPublished && !h.ownsExtension(r, vars["slug"]) {
		httputil.WriteError(w, r, apperrors.NotFound("version %s not found", vars["version"]))
		return
	}
	httputil.WriteSuccess(w, version)
}

// PublishVersion handles POST /api/v1/extensions/{slug}/versions/{version}/publish
func (h *Handlers) PublishVersion(w http.ResponseWriter, r *http.Request) {
	publisher, err := h.service.ResolvePublisher(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	version, err := h.service.PublishVersion(r.Context(), publisher.ID, vars["slug"], vars["version"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, version)
}

// DownloadVersion handles GET /api/v1/extensions/{slug}/versions/{version}/download.
// With ?redirect=true it answers 302 to the signed URL.
func (h *Handlers) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	redirect, err := httputil.ParseQueryBool(r, "redirect", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	subjectID := ""
	if identity := middleware.GetIdentity(r); identity != nil {
		subjectID = identity.SubjectID
	}
	meta := DownloadMetadata{
		Platform:  r.URL.Query().Get("platform"),
		UserAgent: r.UserAgent(),
	}

	vars := mux.Vars(r)
	download, err := h.service.DownloadURL(r.Context(), vars["slug"], vars["version"], subjectID, meta)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if redirect {
		w.Header().Set("X-Bundle-SHA256", download.BundleHash)
		http.Redirect(w, r, download.URL, http.StatusFound)
		return
	}
	httputil.WriteSuccess(w, download)
}

// ListReviews handles GET /api/v1/extensions/{slug}/reviews
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	slug := mux.Vars(r)["slug"]
	if _, err := h.visibleExtension(r, slug); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	reviews, err := h.service.ListReviews(r.Context(), slug, page)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, reviews)
}

// GetMyReview handles GET /api/v1/extensions/{slug}/reviews/me
func (h *Handlers) GetMyReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.GetReview(r.Context(), mux.Vars(r)["slug"], middleware.GetIdentity(r).SubjectID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, review)
}

// UpsertReview handles PUT /api/v1/extensions/{slug}/reviews/me
func (h *Handlers) UpsertReview(w http.ResponseWriter, r *http.Request) {
	var req UpsertReviewRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	review, err := h.service.UpsertReview(r.Context(), mux.Vars(r)["slug"], middleware.GetIdentity(r).SubjectID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, review)
}

// DeleteReview handles DELETE /api/v1/extensions/{slug}/reviews/me
func (h *Handlers) DeleteReview(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteReview(r.Context(), mux.Vars(r)["slug"], middleware.GetIdentity(r).SubjectID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ownsExtension reports whether the caller is the publisher of slug
func (h *Handlers) ownsExtension(r *http.Request, slug string) bool {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		return false
	}
	publisher, err := h.service.ResolvePublisher(r.Context(), identity)
	if err != nil {
		return false
	}
	_, err = h.service.GetOwnedExtension(r.Context(), publisher.ID, slug)
	return err == nil
}

// visibleExtension returns the extension slug when it is published or the
// caller owns it. Anything else is not found.
func (h *Handlers) visibleExtension(r *http.Request, slug string) (*Extension, error) {
	ext, err := h.service.GetExtension(r.Context(), slug)
	if err != nil {
		return nil, err
	}
	if ext.Status != ExtensionStatusPublished && !h.ownsExtension(r, slug) {
		return nil, apperrors.NotFound("extension not found")
	}
	return ext, nil
}
