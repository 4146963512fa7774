// Package forge reports pipeline state as commit statuses on git forges
// (GitLab, GitHub, Gitea/Forgejo). Each platform gets a small client that
// speaks its statuses API; callers only see the Forge interface.
package forge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sofmeright/freightline/src/config"
)

// Provider identifies a git forge platform.
type Provider string

const (
	GitLab  Provider = "gitlab"
	GitHub  Provider = "github"
	Gitea   Provider = "gitea"
	Unknown Provider = "unknown"
)

// State is a platform-neutral commit status. Each client maps it to the
// nearest value its API accepts.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSuccess   State = "success"
	StateFailure   State = "failure"
	StateCancelled State = "cancelled"
)

// maxDescription is GitHub's limit; the others accept more.
const maxDescription = 140

// CommitStatus is one status update for a commit.
type CommitStatus struct {
	SHA         string
	State       State
	Context     string // check name shown on the forge
	Description string
	TargetURL   string
	Ref         string // branch or tag, used by GitLab to pick the pipeline
}

// Forge is the interface every platform implements.
type Forge interface {
	// Provider returns which platform this forge represents.
	Provider() Provider

	// SetCommitStatus creates or replaces the status named by s.Context.
	SetCommitStatus(ctx context.Context, s CommitStatus) error
}

// New builds the client for cfg.Provider. When cfg.BaseURL is empty it is
// derived from remoteURL.
func New(cfg config.ForgeConfig, remoteURL string, hc *http.Client) (Forge, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	base := cfg.BaseURL
	if base == "" && remoteURL != "" {
		base = BaseURL(remoteURL)
	}
	provider := Provider(cfg.Provider)
	if provider == "" {
		provider = DetectProvider(remoteURL)
	}
	if provider == Unknown {
		provider = ProviderFromEnv(os.Getenv)
	}
	project := cfg.Project
	if project == "" {
		project = ProjectFromRemote(remoteURL)
	}

	token := tokenFor(provider, cfg.TokenEnv)

	switch provider {
	case GitHub:
		owner, repo, err := splitProject(project)
		if err != nil {
			return nil, err
		}
		return &GitHubForge{BaseURL: githubAPIBase(base), Token: token, Owner: owner, Repo: repo, Client: hc}, nil
	case GitLab:
		if project == "" {
			return nil, fmt.Errorf("gitlab: project is required")
		}
		if base == "" {
			base = "https://gitlab.com"
		}
		return &GitLabForge{BaseURL: strings.TrimRight(base, "/"), Token: token, ProjectID: project, Client: hc}, nil
	case Gitea:
		owner, repo, err := splitProject(project)
		if err != nil {
			return nil, err
		}
		if base == "" {
			return nil, fmt.Errorf("gitea: base_url is required")
		}
		return &GiteaForge{BaseURL: strings.TrimRight(base, "/"), Token: token, Owner: owner, Repo: repo, Client: hc}, nil
	default:
		return nil, fmt.Errorf("unsupported forge provider %q", cfg.Provider)
	}
}

// tokenFor reads the API token from envName, falling back to the variables
// each platform's CI sets.
func tokenFor(p Provider, envName string) string {
	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v
		}
	}
	var fallbacks []string
	switch p {
	case GitHub:
		fallbacks = []string{"GITHUB_TOKEN", "GH_TOKEN"}
	case GitLab:
		fallbacks = []string{"GITLAB_TOKEN", "CI_JOB_TOKEN"}
	case Gitea:
		fallbacks = []string{"GITEA_TOKEN", "FORGEJO_TOKEN"}
	}
	for _, name := range fallbacks {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func splitProject(project string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(project, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("project %q must be owner/repo", project)
	}
	return owner, repo, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
