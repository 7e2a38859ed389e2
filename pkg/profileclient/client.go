/**
 * @description
 * This package provides a client for communicating with the profile-service.
 * The consistency validator uses it to compare the rating fields stored on
 * freelancer profiles against the values recomputed from reviews, and to push
 * corrected values back when an admin requests an automatic fix.
 */
package profileclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the profile service's internal API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new profile service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RatingSummary pairs a profile's stored aggregate rating with the value the
// profile service recomputes from the underlying reviews.
type RatingSummary struct {
	UserID         string  `json:"user_id"`
	StoredRating   float64 `json:"stored_rating"`
	ComputedRating float64 `json:"computed_rating"`
	ReviewCount    int     `json:"review_count"`
}

type updateRatingRequest struct {
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// ListRatingSummaries fetches every profile's stored vs recomputed rating.
func (c *Client) ListRatingSummaries(ctx context.Context) ([]RatingSummary, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("profile service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/profiles/rating-summaries", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}

	var summaries []RatingSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return summaries, nil
}

// UpdateStoredRating overwrites a profile's stored aggregate rating with a
// recomputed value.
func (c *Client) UpdateStoredRating(ctx context.Context, userID string, rating float64, reviewCount int) error {
	if c.baseURL == "" {
		return fmt.Errorf("profile service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/profiles/%s/rating", c.baseURL, userID)

	body, err := json.Marshal(updateRatingRequest{Rating: rating, ReviewCount: reviewCount})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}
}
