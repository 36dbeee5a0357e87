package blob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/bazaar/pkg/observability"
)

// FilesystemConfig configures a FilesystemStore
type FilesystemConfig struct {
	Root string
	// BaseURL is the externally reachable URL that Handler is mounted at,
	// e.g. http://localhost:8080/blobs
	BaseURL string
	// SigningSecret keys the HMAC on download URLs
	SigningSecret string
}

// FilesystemStore keeps bundles under a local directory and serves them
// through HMAC-signed URLs.
type FilesystemStore struct {
	root    string
	baseURL string
	secret  []byte
	metrics *observability.Metrics
	now     func() time.Time
}

// NewFilesystemStore creates the root directory if needed. metrics may be nil.
func NewFilesystemStore(cfg FilesystemConfig, metrics *observability.Metrics) (*FilesystemStore, error) {
	if cfg.Root == "" {
		return nil, errors.New("filesystem root is required")
	}
	if len(cfg.SigningSecret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	return &FilesystemStore{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.SigningSecret),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Put writes the file with O_EXCL so an existing bundle is never replaced
func (s *FilesystemStore) Put(ctx context.Context, p string, data []byte, _ string) (location string, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveBlobOperation("put", "filesystem", start, err) }()

	rel, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, rel)
		}
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return "file://" + filepath.ToSlash(full), nil
}

// SignedURL returns BaseURL/path?expires=<unix>&signature=<hex hmac>
func (s *FilesystemStore) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(rel, expires))
	return s.baseURL + "/" + rel + "?" + q.Encode(), nil
}

// Delete removes the file. A missing file is not an error.
func (s *FilesystemStore) Delete(_ context.Context, p string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveBlobOperation("delete", "filesystem", start, err) }()

	rel, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is present and writable
func (s *FilesystemStore) HealthCheck(_ context.Context) error {
	f, err := os.CreateTemp(s.root, ".health-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Handler serves signed download URLs. Mount it with http.StripPrefix so
// the request path is the blob path.
func (s *FilesystemStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rel, err := cleanPath(strings.TrimPrefix(r.URL.Path, "/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil || s.now().Unix() > expires {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		if !s.verify(rel, expires, r.URL.Query().Get("signature")) {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}

		data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Cache-Control", "private, max-age=0")
		http.ServeContent(w, r, filepath.Base(rel), time.Time{}, bytes.NewReader(data))
	})
}

func (s *FilesystemStore) sign(rel string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rel))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FilesystemStore) verify(rel string, expires int64, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(s.sign(rel, expires))
	return hmac.Equal(expected, provided)
}
