package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pledgeloop/pledge/internal/infra/retry"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// DefaultLeetCodeEndpoint is the public GraphQL endpoint.
const DefaultLeetCodeEndpoint = "https://leetcode.com/graphql"

// recentLimit is the most accepted submissions the public API returns. A
// full page that does not reach back to the window start may be missing
// solves, so it only counts when it already meets the target.
const recentLimit = 20

const recentAcQuery = `query recentAcSubmissions($username: String!, $limit: Int!) {
  recentAcSubmissionList(username: $username, limit: $limit) {
    id
    title
    titleSlug
    timestamp
  }
}`

// LeetCodeCounter counts distinct problems the user solved in the window,
// using the accepted-submission list of the public GraphQL API.
type LeetCodeCounter struct {
	endpoint string
	client   *http.Client
	retry    retry.Config
	log      *log.Logger
}

// NewLeetCodeCounter creates a LeetCode counter. An empty endpoint uses the
// public one.
func NewLeetCodeCounter(endpoint string, client *http.Client, cfg retry.Config, logger *log.Logger) *LeetCodeCounter {
	if endpoint == "" {
		endpoint = DefaultLeetCodeEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	return &LeetCodeCounter{endpoint: endpoint, client: client, retry: cfg, log: logger}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type acSubmission struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug"`
	Timestamp string `json:"timestamp"`
}

type recentAcResponse struct {
	Data struct {
		RecentAcSubmissionList []acSubmission `json:"recentAcSubmissionList"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Count implements Counter. A problem solved twice in the window counts once.
func (c *LeetCodeCounter) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	username := s.User.LeetCodeUsername
	if username == "" {
		return Unavailable(ReasonNotLinked, "leetcode account not linked"), nil
	}

	var subs []acSubmission
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		subs, err = c.fetch(ctx, username)
		return err
	}, func(err error, wait time.Duration) {
		c.log.Warn("leetcode query failed, retrying", "username", username, "wait", wait, "err", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Unavailable(ReasonSourceError, fmt.Sprintf("leetcode: %v", err)), nil
	}

	solved := make(map[string]struct{})
	reachesStart := false
	for _, sub := range subs {
		sec, err := strconv.ParseInt(sub.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		at := time.Unix(sec, 0)
		if at.Before(w.Start) {
			reachesStart = true
		}
		if !w.Contains(at) {
			continue
		}
		key := sub.TitleSlug
		if key == "" {
			key = sub.Title
		}
		solved[key] = struct{}{}
	}
	if len(subs) >= recentLimit && !reachesStart && len(solved) < s.Habit.TargetCount() {
		return Unavailable(ReasonSourceError, fmt.Sprintf("leetcode: latest %d submissions do not cover the window", recentLimit)), nil
	}
	return Counted(len(solved), float64(len(solved))), nil
}

func (c *LeetCodeCounter) fetch(ctx context.Context, username string) ([]acSubmission, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     recentAcQuery,
		Variables: map[string]any{"username": username, "limit": recentLimit},
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", "https://leetcode.com")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var out recentAcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, retry.Permanent(fmt.Errorf("graphql: %s", out.Errors[0].Message))
	}
	return out.Data.RecentAcSubmissionList, nil
}
