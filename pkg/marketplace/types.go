package marketplace

import (
	"time"
)

// ExtensionStatus is the lifecycle state of an extension
type ExtensionStatus string

const (
	ExtensionStatusDraft         ExtensionStatus = "draft"
	ExtensionStatusPendingReview ExtensionStatus = "pending_review"
	ExtensionStatusPublished     ExtensionStatus = "published"
	ExtensionStatusRejected      ExtensionStatus = "rejected"
	ExtensionStatusUnlisted      ExtensionStatus = "unlisted"
)

// VersionStatus is the lifecycle state of a version
type VersionStatus string

const (
	VersionStatusDraft         VersionStatus = "draft"
	VersionStatusPendingReview VersionStatus = "pending_review"
	VersionStatusPublished     VersionStatus = "published"
	VersionStatusRejected      VersionStatus = "rejected"
)

// Publisher is the account bound to one external identity
type Publisher struct {
	ID          string    `json:"id" db:"id"`
	SubjectID   string    `json:"-" db:"subject_id"`
	Slug        string    `json:"slug" db:"slug"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Description string    `json:"description,omitempty" db:"description"`
	WebsiteURL  string    `json:"website_url,omitempty" db:"website_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Category groups extensions
type Category struct {
	ID   string `json:"id" db:"id"`
	Slug string `json:"slug" db:"slug"`
	Name string `json:"name" db:"name"`
}

// Extension is a publishable package owned by one publisher
type Extension struct {
	ID string `json:"id" db:"id"`
	// ExtensionID is <publisherSlug>/<extensionSlug>, fixed at creation
	ExtensionID    string          `json:"extension_id" db:"identifier"`
	PublisherID    string          `json:"publisher_id" db:"publisher_id"`
	PublisherSlug  string          `json:"publisher_slug"`
	CategoryID     *string         `json:"category_id,omitempty" db:"category_id"`
	CategorySlug   *string         `json:"category_slug,omitempty"`
	Slug           string          `json:"slug" db:"slug"`
	PublicKey      string          `json:"public_key" db:"public_key"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	HomepageURL    string          `json:"homepage_url,omitempty" db:"homepage_url"`
	RepositoryURL  string          `json:"repository_url,omitempty" db:"repository_url"`
	Status         ExtensionStatus `json:"status" db:"status"`
	TotalDownloads int64           `json:"total_downloads" db:"total_downloads"`
	// AverageRating is mean(rating)*100 rounded, nil until the first review
	AverageRating *int       `json:"average_rating" db:"average_rating"`
	ReviewCount   int        `json:"review_count" db:"review_count"`
	PublishedAt   *time.Time `json:"published_at,omitempty" db:"published_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Version is an immutable, hash-verified release of an extension
type Version struct {
	ID          string `json:"id" db:"id"`
	ExtensionID string `json:"extension_id" db:"extension_id"`
	Version     string `json:"version" db:"version"`
	BundlePath  string `json:"bundle_path" db:"bundle_path"`
	BundleSize  int64  `json:"bundle_size" db:"bundle_size"`
	// BundleHash is the lowercase hex SHA-256 of the bundle bytes
	BundleHash    string        `json:"bundle_hash" db:"bundle_hash"`
	Manifest      string        `json:"manifest" db:"manifest"`
	Changelog     string        `json:"changelog,omitempty" db:"changelog"`
	MinAppVersion *string       `json:"min_app_version,omitempty" db:"min_app_version"`
	MaxAppVersion *string       `json:"max_app_version,omitempty" db:"max_app_version"`
	Permissions   []string      `json:"permissions" db:"permissions"`
	Status        VersionStatus `json:"status" db:"status"`
	Downloads     int64         `json:"downloads" db:"downloads"`
	PublishedAt   *time.Time    `json:"published_at,omitempty" db:"published_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Review is one identity's rating of an extension
type Review struct {
	ID          string    `json:"id" db:"id"`
	ExtensionID string    `json:"extension_id" db:"extension_id"`
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	Rating      int       `json:"rating" db:"rating"`
	Title       *string   `json:"title,omitempty" db:"title"`
	Content     *string   `json:"content,omitempty" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ReviewList is a page of reviews
type ReviewList struct {
	Reviews []Review `json:"reviews"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// DownloadMetadata is the coarse client information kept with a download event
type DownloadMetadata struct {
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// DownloadURL is a time-limited bundle location plus what a client needs to
// verify the bytes it retrieves
type DownloadURL struct {
	URL        string    `json:"url"`
	BundleHash string    `json:"bundle_hash"`
	BundleSize int64     `json:"bundle_size"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// APIKey is the stored, non-secret view of a publisher API key
type APIKey struct {
	ID          string     `json:"id" db:"id"`
	PublisherID string     `json:"publisher_id" db:"publisher_id"`
	Name        string     `json:"name" db:"name"`
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// CreatedAPIKey carries the plaintext key. It is only ever returned from
// CreateAPIKey.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// RegisterPublisherRequest creates the caller's publisher
type RegisterPublisherRequest struct {
	Slug        string `json:"slug" validate:"required,slug,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=2000"`
	WebsiteURL  string `json:"website_url" validate:"weburl,max=512"`
}

// UpdatePublisherRequest patches the caller's publisher. Nil fields are left
// unchanged.
type UpdatePublisherRequest struct {
	Slug        *string `json:"slug" validate:"omitempty,slug,max=64"`
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	WebsiteURL  *string `json:"website_url" validate:"omitempty,weburl,max=512"`
}

// CreateExtensionRequest creates an extension in draft
type CreateExtensionRequest struct {
	Slug          string `json:"slug" validate:"required,slug,max=64"`
	PublicKey     string `json:"public_key" validate:"required,max=1024"`
	Name          string `json:"name" validate:"required,max=128"`
	Description   string `json:"description" validate:"max=4000"`
	HomepageURL   string `json:"homepage_url" validate:"weburl,max=512"`
	RepositoryURL string `json:"repository_url" validate:"weburl,max=512"`
	CategorySlug  string `json:"category" validate:"omitempty,slug,max=64"`
}

// UpdateExtensionRequest patches an extension. Slug and PublicKey are
// accepted only so that a request trying to change them can be rejected.
type UpdateExtensionRequest struct {
	Slug          *string `json:"slug"`
	PublicKey     *string `json:"public_key"`
	Name          *string `json:"name" validate:"omitempty,min=1,max=128"`
	Description   *string `json:"description" validate:"omitempty,max=4000"`
	HomepageURL   *string `json:"homepage_url" validate:"omitempty,weburl,max=512"`
	RepositoryURL *string `json:"repository_url" validate:"omitempty,weburl,max=512"`
	// CategorySlug set to "" clears the category
	CategorySlug *string `json:"category" validate:"omitempty,max=64"`
}

// CreateVersionRequest is a bundle upload
type CreateVersionRequest struct {
	Version       string   `validate:"required,semver"`
	Bundle        []byte
	Manifest      string   `validate:"required"`
	Changelog     string   `validate:"max=20000"`
	MinAppVersion string   `validate:"omitempty,semver"`
	MaxAppVersion string   `validate:"omitempty,semver"`
	Permissions   []string `validate:"max=64,dive,required,max=128"`
}

// UpsertReviewRequest writes the caller's review
type UpsertReviewRequest struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Title   *string `json:"title" validate:"omitempty,max=200"`
	Content *string `json:"content" validate:"omitempty,max=5000"`
}

// CreateAPIKeyRequest creates a publisher API key. ExpiresInDays zero means
// the configured default.
type CreateAPIKeyRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	ExpiresInDays int    `json:"expires_in_days" validate:"min=0"`
}
