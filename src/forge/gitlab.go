package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sofmeright/freightline/src/version"
)

// GitLabForge reports statuses to GitLab instances.
type GitLabForge struct {
	BaseURL   string // e.g., "https://gitlab.prplanit.com"
	Token     string // private or project access token
	ProjectID string // numeric ID or "group/project" path
	Client    *http.Client
}

func (g *GitLabForge) Provider() Provider { return GitLab }

func (g *GitLabForge) apiURL(path string) string {
	return fmt.Sprintf("%s/api/v4/projects/%s%s", g.BaseURL, url.PathEscape(g.ProjectID), path)
}

func (g *GitLabForge) doJSON(ctx context.Context, method, url string, body any, result any) error {
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
	req.Header.Set("PRIVATE-TOKEN", g.Token)
	req.Header.Set("User-Agent", version.UserAgent())
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
		return fmt.Errorf("GitLab API %s %s: %d %s", method, url, resp.StatusCode, string(respBody))
	}

	if result != nil {
		return json.Unmarshal(respBody, result)
	}
	return nil
}

// gitlabState maps to pending|running|success|failed|canceled.
func gitlabState(s State) string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failed"
	case StateCancelled:
		return "canceled"
	default:
		return "pending"
	}
}

func (g *GitLabForge) SetCommitStatus(ctx context.Context, s CommitStatus) error {
	payload := map[string]string{
		"state":       gitlabState(s.State),
		"name":        s.Context,
		"description": truncate(s.Description, 255),
	}
	if s.TargetURL != "" {
		payload["target_url"] = s.TargetURL
	}
	if s.Ref != "" {
		payload["ref"] = s.Ref
	}
	return g.doJSON(ctx, http.MethodPost, g.apiURL("/statuses/"+s.SHA), payload, nil)
}
