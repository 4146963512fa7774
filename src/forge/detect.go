package forge

import (
	"strings"
)

// DetectProvider guesses the forge platform from the host of a git remote.
func DetectProvider(remoteURL string) Provider {
	_, host, _ := splitRemote(remoteURL)
	host = strings.ToLower(host)

	switch {
	case host == "github.com" || strings.HasPrefix(host, "github."):
		return GitHub
	case strings.Contains(host, "gitlab"):
		return GitLab
	case strings.Contains(host, "gitea"), strings.Contains(host, "forgejo"), strings.Contains(host, "codeberg"):
		return Gitea
	default:
		return Unknown
	}
}

// ProviderFromEnv recognizes the CI system the process runs under.
// Self-hosted forges on neutral host names are usually found this way.
func ProviderFromEnv(getenv func(string) string) Provider {
	switch {
	case getenv("GITEA_ACTIONS") == "true":
		return Gitea
	case getenv("GITHUB_ACTIONS") == "true":
		return GitHub
	case getenv("GITLAB_CI") == "true":
		return GitLab
	default:
		return Unknown
	}
}

// BaseURL returns the web root of the forge hosting remoteURL. SSH remotes
// map to https on the same host. Unparseable input is returned unchanged.
func BaseURL(remoteURL string) string {
	scheme, host, _ := splitRemote(remoteURL)
	if host == "" {
		return remoteURL
	}
	if scheme != "http" {
		scheme = "https"
	}
	return scheme + "://" + host
}

// ProjectFromRemote returns "org/repo" (or "group/sub/repo") from a remote.
func ProjectFromRemote(remoteURL string) string {
	_, _, path := splitRemote(remoteURL)
	return strings.Trim(path, "/")
}

// splitRemote handles https://host/path, ssh://user@host:port/path and the
// scp-like user@host:path form. The .git suffix is dropped from path.
func splitRemote(remote string) (scheme, host, path string) {
	remote = strings.TrimSuffix(strings.TrimSpace(remote), ".git")

	if i := strings.Index(remote, "://"); i >= 0 {
		scheme, remote = remote[:i], remote[i+3:]
		host, path, _ = strings.Cut(remote, "/")
		if at := strings.LastIndex(host, "@"); at >= 0 {
			host = host[at+1:]
		}
		if scheme == "ssh" {
			host, _, _ = strings.Cut(host, ":")
		}
		return scheme, host, path
	}

	if at := strings.Index(remote, "@"); at >= 0 {
		remote = remote[at+1:]
	}
	host, path, ok := strings.Cut(remote, ":")
	if !ok {
		return "", "", ""
	}
	return "ssh", host, path
}
