package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Client talks to the external disease-prediction HTTP service.
type Client struct {
	BaseURL       string
	HealthTimeout time.Duration
	httpClient    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:       baseURL,
		HealthTimeout: 5 * time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type predictRequest struct {
	Symptoms string `json:"symptoms"`
}

// Predict posts the symptom text to the model endpoint. A response with
// success=false is not a transport error; callers inspect Result.Error.
func (c *Client) Predict(ctx context.Context, symptoms string) (*Result, error) {
	payload, err := json.Marshal(predictRequest{Symptoms: symptoms})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "prediction request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("prediction API error: %s - %s", resp.Status, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode prediction response")
	}
	return &result, nil
}

// Health reports service liveness. Bounded by HealthTimeout regardless
// of the parent context.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
