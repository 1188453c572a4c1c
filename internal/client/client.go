package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tread-depth/pkg/api"

	"github.com/go-resty/resty/v2"
)

var ErrNotImage = errors.New("file is not a JPEG or PNG image")

// Client calls the /capture endpoint of a running tire depth server.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(timeout),
	}
}

func (c *Client) Capture(ctx context.Context, imageData string) (api.CaptureResponse, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(api.CaptureRequest{ImageData: imageData}).
		Post("/capture")
	if err != nil {
		return api.CaptureResponse{}, fmt.Errorf("error sending capture request: %w", err)
	}

	if !res.IsSuccess() {
		return api.CaptureResponse{}, fmt.Errorf("capture request failed with status %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
	}

	var out api.CaptureResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return api.CaptureResponse{}, fmt.Errorf("error parsing capture response: %w", err)
	}

	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("error sending health request: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("server is unhealthy, status %d", res.StatusCode())
	}
	return nil
}

// EncodeFile reads an image file into a data URI. The media type comes from
// the file extension, falling back to content sniffing.
func EncodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading image file: %w", err)
	}

	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !isImageType(mediaType) {
		mediaType = http.DetectContentType(data)
	}
	if !isImageType(mediaType) {
		return "", fmt.Errorf("%w: %s", ErrNotImage, path)
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func isImageType(mediaType string) bool {
	switch mediaType {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}
