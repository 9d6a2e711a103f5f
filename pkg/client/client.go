package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Client is the API client for the collector results server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetBatches retrieves the most recent collection batches; an empty repo lists every repository
func (c *Client) GetBatches(repo string, limit int) ([]*domain.CollectionBatch, error) {
	params := url.Values{}
	if repo != "" {
		params.Set("repo", repo)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CollectionBatch `json:"data"`
	}
	if err := c.get("/api/v1/batches", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetDeadLetters retrieves the abandoned jobs of a repository
func (c *Client) GetDeadLetters(repo domain.Repository) ([]*domain.DeadLetter, error) {
	path := fmt.Sprintf("/api/v1/repos/%s/%s/dead-letters", repo.Owner, repo.Name)

	var response struct {
		Data []*domain.DeadLetter `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetPullRequests retrieves stored stage-1 rows; an empty state returns every state
func (c *Client) GetPullRequests(repo domain.Repository, state domain.PullState) ([]domain.PullRequestRecord, error) {
	path := fmt.Sprintf("/api/v1/repos/%s/%s/pulls", repo.Owner, repo.Name)
	var params url.Values
	if state != "" {
		params = url.Values{"state": {string(state)}}
	}

	var response struct {
		Data []domain.PullRequestRecord `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetAuthors retrieves the stage-2 rows of a repository and state
func (c *Client) GetAuthors(repo domain.Repository, state domain.PullState) ([]domain.AuthorCount, error) {
	var response struct {
		Data []domain.AuthorCount `json:"data"`
	}
	if err := c.get(pullsPath(repo, state, "authors"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetHistogram retrieves the stage-3 rows of a repository and state
func (c *Client) GetHistogram(repo domain.Repository, state domain.PullState) ([]domain.HistogramBucket, error) {
	var response struct {
		Data []domain.HistogramBucket `json:"data"`
	}
	if err := c.get(pullsPath(repo, state, "histogram"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetDriveBy retrieves the drive-by authors of a repository and state
func (c *Client) GetDriveBy(repo domain.Repository, state domain.PullState) ([]domain.DriveByAuthor, error) {
	var response struct {
		Data []domain.DriveByAuthor `json:"data"`
	}
	if err := c.get(pullsPath(repo, state, "drive-by"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSummary retrieves the per-state pull request counts of a repository
func (c *Client) GetSummary(repo domain.Repository) ([]domain.StateSummary, error) {
	path := fmt.Sprintf("/api/v1/repos/%s/%s/summary", repo.Owner, repo.Name)

	var response struct {
		Data []domain.StateSummary `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("API is not healthy: %s", response.Status)
	}
	return nil
}

func pullsPath(repo domain.Repository, state domain.PullState, view string) string {
	return fmt.Sprintf("/api/v1/repos/%s/%s/pulls/%s/%s", repo.Owner, repo.Name, state, view)
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
