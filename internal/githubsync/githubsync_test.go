package githubsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/elmerpm/elmer/internal/config"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = config.GitHubConfig{Token: "t", Owner: "acme", Repo: "product", Branch: "main", BasePath: "docs"}

var doc = models.Document{ID: "doc-1", ProjectID: "prj-1", Type: "research", Title: "Interviews", Content: "five users"}

type putBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func newTestExporter(t *testing.T, h http.Handler) *Exporter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := github.NewClient(nil)
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u
	return NewWithClient(client, cfg)
}

func TestPath(t *testing.T) {
	e := NewWithClient(github.NewClient(nil), cfg)
	assert.Equal(t, "docs/prj-1/research-doc-1.md", e.Path(doc))
}

func TestSync_Create(t *testing.T) {
	var put putBody
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/product/contents/docs/prj-1/research-doc-1.md", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "main", r.URL.Query().Get("ref"))
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}
	}))

	require.NoError(t, e.Sync(context.Background(), doc))

	assert.Empty(t, put.SHA)
	assert.Equal(t, "main", put.Branch)
	raw, err := base64.StdEncoding.DecodeString(put.Content)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Interviews")
	assert.Contains(t, string(raw), "five users")
}

func TestSync_Update(t *testing.T) {
	var put putBody
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"type":"file","sha":"abc123","path":"docs/prj-1/research-doc-1.md"}`))
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&put))
			_, _ = w.Write([]byte(`{}`))
		}
	}))

	require.NoError(t, e.Sync(context.Background(), doc))
	assert.Equal(t, "abc123", put.SHA)
}

func TestSync_Error(t *testing.T) {
	e := newTestExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"forbidden"}`))
	}))

	err := e.Sync(context.Background(), doc)
	assert.ErrorContains(t, err, "githubsync: get")
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), config.GitHubConfig{Owner: "acme"})
	assert.Error(t, err)

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRender(t *testing.T) {
	out := render(models.Document{ID: "d", ProjectID: "p", Type: "prd", Content: "body"})
	assert.Equal(t, "---\nid: d\nproject_id: p\ntype: prd\n---\n\nbody\n", out)
}
