package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// ErrImageNotFound is returned by Fetch for an unknown key.
var ErrImageNotFound = errors.New("reference image not found")

// ImageStore holds reference images keyed by slash-separated paths.
type ImageStore interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif"}

func isImageKey(key string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(path.Ext(key)))
}

// NewImageStore returns the configured store, or nil when none is set.
func NewImageStore(cfg config.ReferenceConfig) ImageStore {
	switch {
	case cfg.Dir != "":
		return NewDirStore(cfg.Dir)
	case cfg.URL != "":
		return NewHTTPStore(cfg.URL, constants.ReferenceFetchTimeout)
	default:
		return nil
	}
}

// DirStore serves reference images from a local directory tree.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

// List returns the keys of all image files, sorted.
func (s *DirStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if isImageKey(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	slices.Sort(keys)
	return keys, nil
}

// Fetch reads one image. Keys may not escape the root.
func (s *DirStore) Fetch(_ context.Context, key string) ([]byte, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrImageNotFound, key)
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// HTTPStore serves reference images from a public bucket. Listing reads
// an optional index.json holding a JSON array of keys.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store for the bucket at baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// List returns the keys in index.json, or none when the bucket has no index.
func (s *HTTPStore) List(ctx context.Context) ([]string, error) {
	body, err := s.get(ctx, "index.json")
	if errors.Is(err, ErrImageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse index.json: %w", err)
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return !isImageKey(k) })
	slices.Sort(keys)
	return keys, nil
}

// Fetch downloads one image.
func (s *HTTPStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key)
}

func (s *HTTPStore) get(ctx context.Context, key string) ([]byte, error) {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+strings.Join(segments, "/"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
