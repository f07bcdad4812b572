package activity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v62/github"

	"github.com/pledgeloop/pledge/internal/infra/retry"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// GitHubCounter counts commits authored by the user's linked GitHub login
// through the commit search API.
type GitHubCounter struct {
	client *github.Client
	retry  retry.Config
	log    *log.Logger
}

// NewGitHubCounter creates a GitHub commit counter. client may carry an auth
// token; unauthenticated search works at a much lower rate limit.
func NewGitHubCounter(client *github.Client, cfg retry.Config, logger *log.Logger) *GitHubCounter {
	if logger == nil {
		logger = log.Default()
	}
	return &GitHubCounter{client: client, retry: cfg, log: logger}
}

// Count implements Counter. Quantity equals Count.
func (c *GitHubCounter) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	login := s.User.GitHubLogin
	if login == "" {
		return Unavailable(ReasonNotLinked, "github account not linked"), nil
	}

	query := commitQuery(login, w)
	var total int
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		res, resp, err := c.client.Search.Commits(ctx, query, &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			if resp != nil && !retryableStatus(resp.StatusCode) {
				return retry.Permanent(err)
			}
			return err
		}
		total = res.GetTotal()
		return nil
	}, func(err error, wait time.Duration) {
		c.log.Warn("github search failed, retrying", "login", login, "wait", wait, "err", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Unavailable(ReasonSourceError, fmt.Sprintf("github search: %v", err)), nil
	}
	return Counted(total, float64(total)), nil
}

// commitQuery builds a search query for commits in [w.Start, w.End).
// The search range is inclusive, so the upper bound is pulled in by a second.
func commitQuery(login string, w timewindow.Window) string {
	const layout = "2006-01-02T15:04:05Z"
	return fmt.Sprintf("author:%s committer-date:%s..%s",
		login,
		w.Start.UTC().Format(layout),
		w.End.Add(-time.Second).UTC().Format(layout))
}

// retryableStatus reports whether an HTTP status is worth another attempt.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		// GitHub reports secondary rate limits as 403.
		return true
	case code >= 500:
		return true
	}
	return false
}
