// Package testutil holds the mock version index and artifact server plus
// the file helpers shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/distantorigin/craftlauncher/internal/manifest"
	"github.com/distantorigin/craftlauncher/internal/version"
)

// MockServer serves a version index under /v1 and raw artifacts under
// any other path. It is safe for concurrent use.
type MockServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses map[string]MockResponse
	artifacts map[string][]byte
	corrupt   map[string]int
	failures  map[string]int
	manifests map[string]*manifest.Manifest
	versions  []string
	offline   bool
	requests  []MockRequest
}

// MockResponse holds response data for a path
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// MockRequest records a request made to the mock server
type MockRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Range  string
}

// NewMockServer creates a new mock index and artifact server
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()

	mock := &MockServer{
		responses: make(map[string]MockResponse),
		artifacts: make(map[string][]byte),
		corrupt:   make(map[string]int),
		failures:  make(map[string]int),
		manifests: make(map[string]*manifest.Manifest),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.serve))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

func (m *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Range:  r.Header.Get("Range"),
	})

	if m.offline {
		m.mu.Unlock()
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}

	if response, ok := m.responses[r.URL.Path]; ok {
		m.mu.Unlock()
		writeResponse(w, response)
		return
	}

	switch r.URL.Path {
	case "/v1/manifest":
		q := r.URL.Query()
		id := version.ID(q.Get("game"), version.LoaderKind(q.Get("loader")), q.Get("loader_version"))
		doc, ok := m.manifests[id]
		m.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	case "/v1/versions":
		list := append([]string(nil), m.versions...)
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string][]string{"versions": list})
		return
	}

	data, ok := m.artifacts[r.URL.Path]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if r.Method == http.MethodHead {
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
		return
	}
	if m.failures[r.URL.Path] > 0 {
		m.failures[r.URL.Path]--
		m.mu.Unlock()
		http.Error(w, "transient failure", http.StatusInternalServerError)
		return
	}
	if m.corrupt[r.URL.Path] != 0 {
		if m.corrupt[r.URL.Path] > 0 {
			m.corrupt[r.URL.Path]--
		}
		flipped := append([]byte(nil), data...)
		if len(flipped) > 0 {
			flipped[len(flipped)/2] ^= 0xff
		}
		data = flipped
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func writeResponse(w http.ResponseWriter, response MockResponse) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	if response.Headers["Content-Type"] == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if response.StatusCode != 0 {
		w.WriteHeader(response.StatusCode)
	}
	w.Write(response.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SetRawResponse overrides whatever the server would return for path
func (m *MockServer) SetRawResponse(path string, statusCode int, body []byte, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    headers,
	}
}

// SetError sets an error response
func (m *MockServer) SetError(path string, statusCode int, message string) {
	body, _ := json.Marshal(map[string]string{"message": message})
	m.SetRawResponse(path, statusCode, body, nil)
}

// SetArtifact serves data at path with Range support
func (m *MockServer) SetArtifact(path string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[path] = data
	return m.URL + path
}

// Corrupt makes the next n downloads of path return damaged bytes.
// A negative n corrupts every download.
func (m *MockServer) Corrupt(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[path] = n
}

// FailNext makes the next n requests for path answer with HTTP 500
func (m *MockServer) FailNext(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
}

// Publish makes the manifest resolvable through /v1/manifest and lists its
// game version under /v1/versions
func (m *MockServer) Publish(doc *manifest.Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[version.ID(doc.GameVersion, doc.Loader, doc.LoaderVersion)] = doc
	for _, v := range m.versions {
		if v == doc.GameVersion {
			return
		}
	}
	m.versions = append(m.versions, doc.GameVersion)
}

// SetVersions replaces the version list served by the index
func (m *MockServer) SetVersions(versions ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append([]string(nil), versions...)
}

// SetOffline makes every request fail with 503
func (m *MockServer) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Requests returns a copy of the recorded requests
func (m *MockServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to a path
func (m *MockServer) GetRequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		if req.Path == path {
			count++
		}
	}
	return count
}

// CountGets returns the number of GET requests made to a path
func (m *MockServer) CountGets(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		if req.Path == path && req.Method == http.MethodGet {
			count++
		}
	}
	return count
}

// CountPrefix returns the number of requests whose path starts with prefix
func (m *MockServer) CountPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		if strings.HasPrefix(req.Path, prefix) {
			count++
		}
	}
	return count
}

// ClearRequests clears the recorded requests
func (m *MockServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
