package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sofmeright/freightline/src/version"
)

// GitHubForge reports statuses to GitHub and GitHub Enterprise.
type GitHubForge struct {
	BaseURL string // "https://api.github.com" or "https://ghes.example.com/api/v3"
	Token   string
	Owner   string
	Repo    string
	Client  *http.Client
}

// githubAPIBase maps a forge base URL to its REST API root.
func githubAPIBase(baseURL string) string {
	if baseURL == "" || strings.Contains(baseURL, "github.com") {
		return "https://api.github.com"
	}
	if strings.HasSuffix(strings.TrimRight(baseURL, "/"), "/api/v3") {
		return strings.TrimRight(baseURL, "/")
	}
	// GitHub Enterprise Server
	return strings.TrimRight(baseURL, "/") + "/api/v3"
}

func (g *GitHubForge) Provider() Provider { return GitHub }

func (g *GitHubForge) apiURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", g.BaseURL, g.Owner, g.Repo, path)
}

func (g *GitHubForge) doJSON(ctx context.Context, method, url string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("GitHub API %s %s: %d %s", method, url, resp.StatusCode, string(respBody))
	}

	if result != nil {
		return json.Unmarshal(respBody, result)
	}
	return nil
}

// githubState maps to error|failure|pending|success.
func githubState(s State) string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateCancelled:
		return "error"
	default:
		return "pending"
	}
}

func (g *GitHubForge) SetCommitStatus(ctx context.Context, s CommitStatus) error {
	payload := map[string]string{
		"state":       githubState(s.State),
		"context":     s.Context,
		"description": truncate(s.Description, maxDescription),
	}
	if s.TargetURL != "" {
		payload["target_url"] = s.TargetURL
	}
	return g.doJSON(ctx, http.MethodPost, g.apiURL("/statuses/"+s.SHA), payload, nil)
}
