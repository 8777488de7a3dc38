package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/version"
)

// Query identifies a game/loader combination
type Query struct {
	GameVersion   string
	Loader        version.LoaderKind
	LoaderVersion string
}

// ID is the cache key and catalog id of the query
func (q Query) ID() string {
	return version.ID(q.GameVersion, q.Loader, q.LoaderVersion)
}

// Index is the remote version index. Implementations return ErrNotFound
// when the index positively reports that a version does not exist; any
// other error is treated as the index being unreachable.
type Index interface {
	Manifest(ctx context.Context, q Query) (*manifest.Manifest, error)
	Versions(ctx context.Context) ([]string, error)
}

// RemoteIndex queries an HTTP version index
type RemoteIndex struct {
	baseURL string
	client  *resty.Client
}

type versionsResponse struct {
	Versions []string `json:"versions"`
}

// NewRemoteIndex creates a client for the index at baseURL
func NewRemoteIndex(baseURL string, timeout time.Duration) *RemoteIndex {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "craftlauncher")

	return &RemoteIndex{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Manifest fetches the manifest document for q
func (r *RemoteIndex) Manifest(ctx context.Context, q Query) (*manifest.Manifest, error) {
	params := map[string]string{
		"game":   q.GameVersion,
		"loader": string(q.Loader),
	}
	if q.LoaderVersion != "" {
		params["loader_version"] = q.LoaderVersion
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(r.baseURL + "/v1/manifest")
	if err != nil {
		return nil, fmt.Errorf("manifest request failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q.ID())
	case !resp.IsSuccess():
		return nil, fmt.Errorf("manifest request failed: HTTP %d", resp.StatusCode())
	}

	return manifest.Decode(bytes.NewReader(resp.Body()))
}

// Versions lists every game version the index knows about
func (r *RemoteIndex) Versions(ctx context.Context) ([]string, error) {
	var out versionsResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(r.baseURL + "/v1/versions")
	if err != nil {
		return nil, fmt.Errorf("versions request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("versions request failed: HTTP %d", resp.StatusCode())
	}
	return out.Versions, nil
}
