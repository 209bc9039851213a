package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
)

// FileField is the multipart field the classification API reads the image from
const FileField = "file"

// ErrMissingClass is returned when the API answers without a class label
var ErrMissingClass = errors.New("classification response has no class")

// ClassifyResponse represents the response from the classification API
type ClassifyResponse struct {
	Class      string   `json:"class"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ClassifierClient is an HTTP client for the classification API
type ClassifierClient struct {
	url        string
	pingURL    string
	httpClient *http.Client
}

// NewClassifierClient creates a new classification API client.
// A zero timeout lets requests run until the server answers.
func NewClassifierClient(url, pingURL string, timeout time.Duration) *ClassifierClient {
	return &ClassifierClient{
		url:     url,
		pingURL: pingURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Classify posts file as multipart form data and decodes the label
func (c *ClassifierClient) Classify(ctx context.Context, file *entity.SelectedFile) (*ClassifyResponse, error) {
	body, contentType, err := encodeFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("classification API returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("classification API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Class == "" {
		return nil, ErrMissingClass
	}

	return &result, nil
}

// Ping checks that the classification API is reachable.
// It is a no-op when no ping URL is configured.
func (c *ClassifierClient) Ping(ctx context.Context) error {
	if c.pingURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classification API not ready: status %d", resp.StatusCode)
	}

	return nil
}

func encodeFile(file *entity.SelectedFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, file.Name))
	header.Set("Content-Type", file.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
