package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/storage"
)

const defaultBatchLimit = 50

// Handler handles API requests
type Handler struct {
	storage storage.Storage
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		storage: store,
	}
}

// GetBatches returns the most recent collection batches
// GET /api/v1/batches?repo=owner/name&limit=50
func (h *Handler) GetBatches(c *gin.Context) {
	repo := c.Query("repo")
	if repo != "" {
		parsed, err := domain.ParseRepository(repo)
		if err != nil {
			respondError(c, apperrors.NewBadRequestError(err.Error()))
			return
		}
		repo = parsed.FullName()
	}
	limit := parseIntQuery(c, "limit", defaultBatchLimit)

	batches, err := h.storage.GetBatches(c.Request.Context(), repo, limit)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to load batches", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": batches,
	})
}

// GetDeadLetters returns the jobs abandoned for a repository
// GET /api/v1/repos/:owner/:repo/dead-letters
func (h *Handler) GetDeadLetters(c *gin.Context) {
	repo := repoParam(c)

	letters, err := h.storage.GetDeadLetters(c.Request.Context(), repo.FullName())
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to load dead letters", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": letters,
	})
}

// GetPullRequests returns the stored stage-1 rows of a repository
// GET /api/v1/repos/:owner/:repo/pulls?state=closed_merged
func (h *Handler) GetPullRequests(c *gin.Context) {
	repo := repoParam(c)

	var state domain.PullState
	if raw := c.Query("state"); raw != "" {
		st, ok := domain.ParsePullState(raw)
		if !ok {
			respondError(c, apperrors.NewBadRequestError("unknown pull request state: "+raw))
			return
		}
		state = st
	}

	records, ok := h.pullRequests(c, repo, state)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": records,
	})
}

// GetAuthors returns the stage-2 rows of a repository and state
// GET /api/v1/repos/:owner/:repo/pulls/:state/authors
func (h *Handler) GetAuthors(c *gin.Context) {
	counts, ok := h.stage2(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": counts,
	})
}

// GetHistogram returns the stage-3 rows of a repository and state
// GET /api/v1/repos/:owner/:repo/pulls/:state/histogram
func (h *Handler) GetHistogram(c *gin.Context) {
	counts, ok := h.stage2(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": aggregator.Stage3(counts),
	})
}

// GetDriveBy returns the authors with a single pull request in a state
// GET /api/v1/repos/:owner/:repo/pulls/:state/drive-by
func (h *Handler) GetDriveBy(c *gin.Context) {
	counts, ok := h.stage2(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": aggregator.DriveBy(counts),
	})
}

// GetSummary counts the stored pull requests, authors and drive-by authors per state
// GET /api/v1/repos/:owner/:repo/summary
func (h *Handler) GetSummary(c *gin.Context) {
	records, ok := h.pullRequests(c, repoParam(c), "")
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": aggregator.Summarize(records),
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// stage2 loads the rows of the :state path parameter and counts them per author
func (h *Handler) stage2(c *gin.Context) ([]domain.AuthorCount, bool) {
	raw := c.Param("state")
	st, ok := domain.ParsePullState(raw)
	if !ok {
		respondError(c, apperrors.NewBadRequestError("unknown pull request state: "+raw))
		return nil, false
	}

	records, ok := h.pullRequests(c, repoParam(c), st)
	if !ok {
		return nil, false
	}
	return aggregator.Stage2(records), true
}

func (h *Handler) pullRequests(c *gin.Context, repo domain.Repository, st domain.PullState) ([]domain.PullRequestRecord, bool) {
	records, err := h.storage.GetPullRequests(c.Request.Context(), repo, st)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to load pull requests", err))
		return nil, false
	}
	if records == nil {
		records = []domain.PullRequestRecord{}
	}
	return records, true
}

func repoParam(c *gin.Context) domain.Repository {
	return domain.Repository{Owner: c.Param("owner"), Name: c.Param("repo")}
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
