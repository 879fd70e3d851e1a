package workspace

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
)

// DefaultCloneTimeout bounds a single clone.
const DefaultCloneTimeout = 2 * time.Minute

// stderrTail is how much of git's stderr is kept in error messages.
const stderrTail = 512

// remoteProtocols are the transports git may use unless local repositories are allowed.
const remoteProtocols = "https:http:ssh:git"

// GitSource fetches a repository with a shallow git clone.
type GitSource struct {
	gitPath    string
	timeout    time.Duration
	allowLocal bool
}

// NewGitSource creates a git source. An empty gitPath means "git" from PATH.
func NewGitSource(gitPath string, timeout time.Duration) *GitSource {
	if gitPath == "" {
		gitPath = "git"
	}
	if timeout <= 0 {
		timeout = DefaultCloneTimeout
	}
	return &GitSource{
		gitPath: gitPath,
		timeout: timeout,
	}
}

// WithLocalRepos allows file:// locators. Only trusted callers such as the CLI should set it.
func (s *GitSource) WithLocalRepos() *GitSource {
	s.allowLocal = true
	return s
}

// Fetch clones locator into dir, which must exist and be empty.
func (s *GitSource) Fetch(ctx context.Context, locator, dir string) error {
	logger := contextutil.LoggerFromContext(ctx)

	if err := validateRepoURL(locator, s.allowLocal); err != nil {
		return err
	}

	protocols := remoteProtocols
	if s.allowLocal {
		protocols += ":file"
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.gitPath, "clone", "--depth", "1", "--quiet", "--", locator, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ALLOW_PROTOCOL="+protocols)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := tail(strings.TrimSpace(stderr.String()), stderrTail)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		logger.ErrorContext(ctx, "git clone failed", "repo_url", locator, "error", err, "stderr", msg)
		if msg == "" {
			return fmt.Errorf("%w: git clone %s: %w", apperr.ErrAcquisition, locator, err)
		}
		return fmt.Errorf("%w: git clone %s: %w: %s", apperr.ErrAcquisition, locator, err, msg)
	}

	logger.InfoContext(ctx, "repository cloned", "repo_url", locator, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// ValidateRepoURL accepts remote http(s), ssh and git URLs and scp-style "user@host:path"
// locators. Local file URLs, transport helpers ("ext::", "fd::") and anything git could
// read as an option are rejected.
func ValidateRepoURL(locator string) error {
	return validateRepoURL(locator, false)
}

func validateRepoURL(locator string, allowLocal bool) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return fmt.Errorf("%w: repository URL is required", apperr.ErrInvalidInput)
	}
	if strings.HasPrefix(locator, "-") {
		return fmt.Errorf("%w: repository URL must not start with '-'", apperr.ErrInvalidInput)
	}
	if strings.Contains(locator, "::") {
		return fmt.Errorf("%w: git transport helpers are not supported: %q", apperr.ErrInvalidInput, locator)
	}

	if u, err := url.Parse(locator); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "https", "http", "ssh", "git":
			if u.Host == "" {
				return fmt.Errorf("%w: repository URL %q has no host", apperr.ErrInvalidInput, locator)
			}
			return nil
		case "file":
			if !allowLocal {
				return fmt.Errorf("%w: local repository URLs are not allowed: %q", apperr.ErrInvalidInput, locator)
			}
			if u.Path == "" {
				return fmt.Errorf("%w: repository URL %q has no path", apperr.ErrInvalidInput, locator)
			}
			return nil
		}
	}

	// scp-like syntax: git@github.com:owner/repo.git
	if at := strings.Index(locator, "@"); at > 0 {
		if colon := strings.Index(locator[at:], ":"); colon > 1 && !strings.Contains(locator[:at], "/") {
			return nil
		}
	}

	return fmt.Errorf("%w: unsupported repository URL %q", apperr.ErrInvalidInput, locator)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
