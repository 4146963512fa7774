package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sofmeright/freightline/src/version"
)

// GiteaForge reports statuses to Gitea and Forgejo instances.
type GiteaForge struct {
	BaseURL string // e.g., "https://codeberg.org"
	Token   string
	Owner   string
	Repo    string
	Client  *http.Client
}

func (g *GiteaForge) Provider() Provider { return Gitea }

func (g *GiteaForge) apiURL(path string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s/%s%s", g.BaseURL, g.Owner, g.Repo, path)
}

func (g *GiteaForge) doJSON(ctx context.Context, method, url string, body any, result any) error {
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
	req.Header.Set("Authorization", "token "+g.Token)
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
		return fmt.Errorf("Gitea API %s %s: %d %s", method, url, resp.StatusCode, string(respBody))
	}

	if result != nil {
		return json.Unmarshal(respBody, result)
	}
	return nil
}

// giteaState maps to pending|success|error|failure|warning. Gitea has no
// running state.
func giteaState(s State) string {
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

func (g *GiteaForge) SetCommitStatus(ctx context.Context, s CommitStatus) error {
	payload := map[string]string{
		"state":       giteaState(s.State),
		"context":     s.Context,
		"description": truncate(s.Description, 255),
	}
	if s.TargetURL != "" {
		payload["target_url"] = s.TargetURL
	}
	return g.doJSON(ctx, http.MethodPost, g.apiURL("/statuses/"+s.SHA), payload, nil)
}
