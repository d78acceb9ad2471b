package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

// GenerateRequest is the body shared by every submission endpoint.
//
// Provider and Model travel as headers, not in the body. Search selects /generate/search for single images.
type GenerateRequest struct {
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Count          int            `json:"count,omitempty"`
	Width          int            `json:"width,omitempty"`
	Height         int            `json:"height,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	Seed           *int64         `json:"seed,omitempty"`
	DurationSecs   int            `json:"duration,omitempty"`
	ImageURLs      []string       `json:"image_urls,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`

	Search   bool   `json:"-"`
	Provider string `json:"-"`
	Model    string `json:"-"`
}

// GenerateResponse is the inline answer of the single item endpoints.
type GenerateResponse struct {
	TaskID  string              `json:"task_id,omitempty"`
	Status  models.TaskStatus   `json:"status"`
	Results []models.TaskResult `json:"results"`
	Errors  []string            `json:"errors,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type cancelResponse struct {
	Refunded int `json:"refunded"`
}

func (r GenerateRequest) route() routing { return routing{provider: r.Provider, model: r.Model} }

// Generate submits a single image and returns the finished result.
//
// Calls POST /generate, or POST /generate/search when req.Search is set.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	endpoint := "/generate"
	if req.Search {
		endpoint = "/generate/search"
	}

	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, endpoint, req.route(), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == models.StatusUnset {
		resp.Status = models.StatusCompleted
	}
	return &resp, nil
}

// GenerateBatch queues several images. Calls POST /generate/batch.
func (c *Client) GenerateBatch(ctx context.Context, req GenerateRequest) (string, error) {
	return c.submit(ctx, "/generate/batch", req)
}

// GenerateVideo queues a video. Calls POST /video/generate.
func (c *Client) GenerateVideo(ctx context.Context, req GenerateRequest) (string, error) {
	return c.submit(ctx, "/video/generate", req)
}

// SendChat queues a chat turn. Calls POST /chat/messages.
func (c *Client) SendChat(ctx context.Context, req GenerateRequest) (string, error) {
	return c.submit(ctx, "/chat/messages", req)
}

func (c *Client) submit(ctx context.Context, endpoint string, req GenerateRequest) (string, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, endpoint, req.route(), req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: %s returned no task_id", shared.ErrAPIRequest, endpoint)
	}
	return resp.TaskID, nil
}

// TaskProgress fetches a task snapshot. Calls GET /generate/task/{id}.
func (c *Client) TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}

	var p models.TaskProgress
	if err := c.do(ctx, http.MethodGet, "/generate/task/"+url.PathEscape(taskID), routing{}, nil, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		p.TaskID = taskID
	}
	return &p, nil
}

// CancelTask cancels a task and returns the refunded quota. Calls POST /generate/task/{id}/cancel.
func (c *Client) CancelTask(ctx context.Context, taskID string) (int, error) {
	if taskID == "" {
		return 0, fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}

	var resp cancelResponse
	if err := c.do(ctx, http.MethodPost, "/generate/task/"+url.PathEscape(taskID)+"/cancel", routing{}, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Refunded, nil
}

// Quota fetches the remaining allowance. Calls GET /user/quota.
func (c *Client) Quota(ctx context.Context) (*models.Quota, error) {
	var q models.Quota
	if err := c.do(ctx, http.MethodGet, "/user/quota", routing{}, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}
