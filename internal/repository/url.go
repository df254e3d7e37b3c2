package repository

import (
	"net/url"
	"strings"
)

// RedactURL removes any userinfo from a repository URL so it can be logged.
// Inputs that do not parse are returned with everything before the last '@'
// masked.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		if i := strings.LastIndex(raw, "@"); i >= 0 {
			return "***" + raw[i:]
		}
		return raw
	}

	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// urlCredentials returns the user info embedded in raw, if any
func urlCredentials(raw string) (user, password string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil || u.User.Username() == "" {
		return "", "", false
	}
	password, _ = u.User.Password()
	return u.User.Username(), password, true
}

// parseGitHubRepo extracts owner and repository name from an HTTPS
// github.com URL.
func parseGitHubRepo(raw string) (owner, name string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return "", "", false
	}

	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
