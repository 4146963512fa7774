package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/freightline/src/config"
)

type captured struct {
	method string
	path   string
	header http.Header
	body   map[string]string
}

func statusServer(t *testing.T, code int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.method = r.Method
		c.path = r.URL.EscapedPath()
		c.header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestGitHubSetCommitStatus(t *testing.T) {
	srv, got := statusServer(t, http.StatusCreated)
	g := &GitHubForge{BaseURL: srv.URL, Token: "tok", Owner: "acme", Repo: "web", Client: srv.Client()}

	err := g.SetCommitStatus(context.Background(), CommitStatus{
		SHA: "abc123", State: StateCancelled, Context: "freightline/pipeline",
		Description: "run cancelled", TargetURL: "https://ci.example.com/1",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/repos/acme/web/statuses/abc123", got.path)
	assert.Equal(t, "Bearer tok", got.header.Get("Authorization"))
	assert.Equal(t, "error", got.body["state"])
	assert.Equal(t, "freightline/pipeline", got.body["context"])
	assert.Equal(t, "https://ci.example.com/1", got.body["target_url"])
}

func TestGitLabSetCommitStatus(t *testing.T) {
	srv, got := statusServer(t, http.StatusCreated)
	g := &GitLabForge{BaseURL: srv.URL, Token: "tok", ProjectID: "group/web", Client: srv.Client()}

	err := g.SetCommitStatus(context.Background(), CommitStatus{SHA: "abc123", State: StateFailure, Context: "ci", Ref: "main"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v4/projects/group%2Fweb/statuses/abc123", got.path)
	assert.Equal(t, "tok", got.header.Get("PRIVATE-TOKEN"))
	assert.Equal(t, "failed", got.body["state"])
	assert.Equal(t, "ci", got.body["name"])
	assert.Equal(t, "main", got.body["ref"])
}

func TestGiteaSetCommitStatus(t *testing.T) {
	srv, got := statusServer(t, http.StatusCreated)
	g := &GiteaForge{BaseURL: srv.URL, Token: "tok", Owner: "acme", Repo: "web", Client: srv.Client()}

	require.NoError(t, g.SetCommitStatus(context.Background(), CommitStatus{SHA: "abc123", State: StateRunning, Context: "ci"}))

	assert.Equal(t, "/api/v1/repos/acme/web/statuses/abc123", got.path)
	assert.Equal(t, "token tok", got.header.Get("Authorization"))
	assert.Equal(t, "pending", got.body["state"])
}

func TestSetCommitStatusError(t *testing.T) {
	srv, _ := statusServer(t, http.StatusUnprocessableEntity)
	g := &GitHubForge{BaseURL: srv.URL, Owner: "acme", Repo: "web", Client: srv.Client()}

	err := g.SetCommitStatus(context.Background(), CommitStatus{SHA: "abc", State: StateSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		state                 State
		github, gitlab, gitea string
	}{
		{StatePending, "pending", "pending", "pending"},
		{StateRunning, "pending", "running", "pending"},
		{StateSuccess, "success", "success", "success"},
		{StateFailure, "failure", "failed", "failure"},
		{StateCancelled, "error", "canceled", "error"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.github, githubState(tt.state))
			assert.Equal(t, tt.gitlab, gitlabState(tt.state))
			assert.Equal(t, tt.gitea, giteaState(tt.state))
		})
	}
}

func TestNew(t *testing.T) {
	f, err := New(config.ForgeConfig{Provider: "github", Project: "acme/web"}, "git@github.com:acme/web.git", nil)
	require.NoError(t, err)
	gh := f.(*GitHubForge)
	assert.Equal(t, "https://api.github.com", gh.BaseURL)
	assert.Equal(t, "acme", gh.Owner)

	f, err = New(config.ForgeConfig{Provider: "github", BaseURL: "https://ghes.example.com", Project: "acme/web"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://ghes.example.com/api/v3", f.(*GitHubForge).BaseURL)

	f, err = New(config.ForgeConfig{Provider: "gitlab", Project: "group/web"}, "https://gitlab.example.com/group/web.git", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", f.(*GitLabForge).BaseURL)

	_, err = New(config.ForgeConfig{Provider: "gitea", Project: "acme/web"}, "", nil)
	assert.Error(t, err)

	_, err = New(config.ForgeConfig{Provider: "github", Project: "web"}, "", nil)
	assert.Error(t, err)

	_, err = New(config.ForgeConfig{Provider: "bitbucket"}, "", nil)
	assert.Error(t, err)
}

func TestTokenFromConfiguredEnv(t *testing.T) {
	t.Setenv("FREIGHTLINE_FORGE_TOKEN", "from-config")
	t.Setenv("GITHUB_TOKEN", "from-ci")
	assert.Equal(t, "from-config", tokenFor(GitHub, "FREIGHTLINE_FORGE_TOKEN"))
	assert.Equal(t, "from-ci", tokenFor(GitHub, ""))
}

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, GitHub, DetectProvider("https://github.com/acme/web.git"))
	assert.Equal(t, GitLab, DetectProvider("git@gitlab.example.com:group/web.git"))
	assert.Equal(t, Gitea, DetectProvider("https://codeberg.org/acme/web"))
	assert.Equal(t, Unknown, DetectProvider("https://git.internal/acme/web"))
}

func TestProviderFromEnv(t *testing.T) {
	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}
	assert.Equal(t, GitLab, ProviderFromEnv(env(map[string]string{"GITLAB_CI": "true"})))
	assert.Equal(t, GitHub, ProviderFromEnv(env(map[string]string{"GITHUB_ACTIONS": "true"})))
	// Gitea Actions also sets GITHUB_ACTIONS.
	assert.Equal(t, Gitea, ProviderFromEnv(env(map[string]string{"GITHUB_ACTIONS": "true", "GITEA_ACTIONS": "true"})))
	assert.Equal(t, Unknown, ProviderFromEnv(env(nil)))
}

func TestProjectFromRemote(t *testing.T) {
	assert.Equal(t, "acme/web", ProjectFromRemote("git@github.com:acme/web.git"))
	assert.Equal(t, "group/sub/web", ProjectFromRemote("https://gitlab.example.com/group/sub/web.git"))
	assert.Equal(t, "acme/web", ProjectFromRemote("ssh://git@git.internal:2222/acme/web.git"))
	assert.Equal(t, "", ProjectFromRemote("not a remote"))
}

func TestNewDerivesProjectFromRemote(t *testing.T) {
	f, err := New(config.ForgeConfig{}, "https://codeberg.org/acme/web.git", nil)
	require.NoError(t, err)
	gt := f.(*GiteaForge)
	assert.Equal(t, "https://codeberg.org", gt.BaseURL)
	assert.Equal(t, "acme", gt.Owner)
	assert.Equal(t, "web", gt.Repo)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://git.internal", BaseURL("ssh://git@git.internal:2222/acme/web.git"))
	assert.Equal(t, "https://github.com", BaseURL("git@github.com:acme/web.git"))
	assert.Equal(t, "https://gitlab.example.com", BaseURL("https://gitlab.example.com/group/web.git"))
	assert.Equal(t, "http://localhost:3000", BaseURL("http://localhost:3000/acme/web"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
