package repospec

import (
	"fmt"
	"net/url"
	"strings"
)

const DefaultHost = "github.com"

type Scheme string

const (
	SchemeHTTPS Scheme = "https"
	SchemeSSH   Scheme = "ssh"
	SchemeFile  Scheme = "file"
)

type Spec struct {
	Host    string
	Owner   string
	Repo    string
	RepoKey string
	Scheme  Scheme
	// Source is the cleaned input for ssh and file remotes.
	Source string
}

// Normalize parses input using DefaultHost for owner/repo shorthand.
func Normalize(input string) (Spec, error) {
	return NormalizeWithHost(input, DefaultHost)
}

// NormalizeWithHost accepts "owner/repo", https, ssh (git@host:owner/repo) and
// file URLs.
func NormalizeWithHost(input, defaultHost string) (Spec, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Spec{}, fmt.Errorf("repo spec is empty")
	}

	var host string
	var path string
	scheme := SchemeHTTPS
	source := ""

	switch {
	case strings.HasPrefix(trimmed, "git@"):
		at := strings.Index(trimmed, "@")
		colon := strings.Index(trimmed, ":")
		if at < 0 || colon < 0 || colon < at {
			return Spec{}, fmt.Errorf("invalid ssh repo spec: %q", input)
		}
		host = trimmed[at+1 : colon]
		path = trimmed[colon+1:]
		scheme = SchemeSSH
		source = trimmed
	case strings.HasPrefix(trimmed, "https://"):
		u, err := url.Parse(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("invalid https repo spec: %q", input)
		}
		if u.User != nil {
			return Spec{}, fmt.Errorf("https repo spec must not embed credentials")
		}
		host = u.Hostname()
		path = strings.TrimPrefix(u.Path, "/")
	case strings.HasPrefix(trimmed, "file://"):
		u, err := url.Parse(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("invalid file repo spec: %q", input)
		}
		// file:///.../<host>/<owner>/<repo>(.git); shorter paths use host "local".
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[len(parts)-1] == "" {
			return Spec{}, fmt.Errorf("file repo spec must end with <owner>/<repo>: %q", input)
		}
		host = "local"
		if len(parts) >= 3 {
			host = parts[len(parts)-3]
		}
		path = fmt.Sprintf("%s/%s", parts[len(parts)-2], parts[len(parts)-1])
		scheme = SchemeFile
		source = trimmed
	case strings.Contains(trimmed, "://"):
		return Spec{}, fmt.Errorf("repo spec must be owner/repo, ssh, https, or file: %q", input)
	default:
		host = strings.TrimSpace(defaultHost)
		path = trimmed
	}

	owner, repo, err := splitOwnerRepo(path)
	if err != nil {
		return Spec{}, err
	}
	if host == "" {
		return Spec{}, fmt.Errorf("host is required in repo spec: %q", input)
	}

	spec := Spec{
		Host:    host,
		Owner:   owner,
		Repo:    repo,
		RepoKey: fmt.Sprintf("%s/%s/%s", host, owner, repo),
		Scheme:  scheme,
		Source:  source,
	}
	return spec, nil
}

// RemoteURL returns the URL git should push to. For https remotes a non-empty
// credential is embedded as the password of the x-access-token user.
func (s Spec) RemoteURL(credential string) string {
	switch s.Scheme {
	case SchemeSSH, SchemeFile:
		return s.Source
	}
	u := url.URL{
		Scheme: "https",
		Host:   s.Host,
		Path:   fmt.Sprintf("/%s/%s.git", s.Owner, s.Repo),
	}
	if credential != "" {
		u.User = url.UserPassword("x-access-token", credential)
	}
	return u.String()
}

func (s Spec) String() string {
	return s.RepoKey
}

func splitOwnerRepo(path string) (string, string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("repo path is empty")
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("repo path must be <owner>/<repo>")
	}

	owner := parts[0]
	repo := strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("owner/repo cannot be empty")
	}
	if owner == "." || owner == ".." || repo == "." || repo == ".." {
		return "", "", fmt.Errorf("owner/repo cannot be a relative path element")
	}

	return owner, repo, nil
}
