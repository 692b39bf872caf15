// Package githubsync mirrors project documents into a GitHub repository as
// markdown files.
package githubsync

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/elmerpm/elmer/internal/config"
	"github.com/elmerpm/elmer/internal/document"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// contents abstracts the repository contents API.
type contents interface {
	GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error)
	CreateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
	UpdateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
}

// Exporter writes documents to <base>/<project>/<type>-<id>.md.
type Exporter struct {
	repo     contents
	owner    string
	name     string
	branch   string
	basePath string
}

var _ document.Syncer = (*Exporter)(nil)

// New creates an exporter authenticated with cfg.Token.
func New(ctx context.Context, cfg config.GitHubConfig) (*Exporter, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("githubsync: token, owner and repo are required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates an exporter over an existing client.
func NewWithClient(client *github.Client, cfg config.GitHubConfig) *Exporter {
	return &Exporter{
		repo:     client.Repositories,
		owner:    cfg.Owner,
		name:     cfg.Repo,
		branch:   cfg.Branch,
		basePath: cfg.BasePath,
	}
}

// Path returns the repository path doc is written to.
func (e *Exporter) Path(doc models.Document) string {
	return path.Join(e.basePath, doc.ProjectID, fmt.Sprintf("%s-%s.md", doc.Type, doc.ID))
}

// Sync creates the file, or updates it when it already exists.
func (e *Exporter) Sync(ctx context.Context, doc models.Document) error {
	p := e.Path(doc)
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(fmt.Sprintf("docs: sync %s %s", doc.Type, doc.ID)),
		Content: []byte(render(doc)),
	}
	if e.branch != "" {
		opts.Branch = github.Ptr(e.branch)
	}

	sha, err := e.currentSHA(ctx, p)
	if err != nil {
		return err
	}
	if sha == "" {
		if _, _, err := e.repo.CreateFile(ctx, e.owner, e.name, p, opts); err != nil {
			return fmt.Errorf("githubsync: create %s: %w", p, err)
		}
		return nil
	}
	opts.SHA = github.Ptr(sha)
	if _, _, err := e.repo.UpdateFile(ctx, e.owner, e.name, p, opts); err != nil {
		return fmt.Errorf("githubsync: update %s: %w", p, err)
	}
	return nil
}

// currentSHA returns the blob SHA at p, or "" when the file does not exist.
func (e *Exporter) currentSHA(ctx context.Context, p string) (string, error) {
	var getOpts *github.RepositoryContentGetOptions
	if e.branch != "" {
		getOpts = &github.RepositoryContentGetOptions{Ref: e.branch}
	}
	file, _, resp, err := e.repo.GetContents(ctx, e.owner, e.name, p, getOpts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("githubsync: get %s: %w", p, err)
	}
	if file == nil {
		return "", fmt.Errorf("githubsync: %s is a directory", p)
	}
	return file.GetSHA(), nil
}

func render(doc models.Document) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", doc.ID)
	fmt.Fprintf(&b, "project_id: %s\n", doc.ProjectID)
	fmt.Fprintf(&b, "type: %s\n", doc.Type)
	if !doc.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "created_at: %s\n", doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	b.WriteString("---\n\n")
	if doc.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	}
	b.WriteString(doc.Content)
	if !strings.HasSuffix(doc.Content, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
