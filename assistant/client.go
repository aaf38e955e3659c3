package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const DefaultURL = "http://localhost:8000"

// Client talks to the response service over HTTP.
type Client struct {
	client  *TracedClient
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		client:  NewTracedClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type serviceResponse struct {
	Transcript *string `json:"transcribed_text"`
	Response   *string `json:"chatbot_response"`
	Error      *string `json:"error"`
	Status     *string `json:"status"`
}

func (c *Client) TranscribeAndRespond(ctx context.Context, clip Upload, history []Turn) (*Reply, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, clip.Filename))
	header.Set("Content-Type", clip.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, clip.Body); err != nil {
		return nil, fmt.Errorf("reading clip: %w", err)
	}
	hist, err := json.Marshal(nonNil(history))
	if err != nil {
		return nil, err
	}
	if err := writer.WriteField("history", string(hist)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, metrics, err := c.do(req)
	if err != nil {
		return nil, err
	}
	reply := &Reply{Response: *resp.Response, Metrics: metrics}
	if resp.Transcript != nil {
		reply.Transcript = *resp.Transcript
	}
	return reply, nil
}

func (c *Client) Chat(ctx context.Context, message string, history []Turn) (*Reply, error) {
	payload, err := json.Marshal(struct {
		Message string `json:"message"`
		History []Turn `json:"history"`
	}{message, nonNil(history)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, metrics, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return &Reply{Response: *resp.Response, Metrics: metrics}, nil
}

// do sends req and applies the response rules: an error field wins over any
// status, then non-2xx fails, then chatbot_response must be present.
func (c *Client) do(req *http.Request) (*serviceResponse, *NetworkMetrics, error) {
	tr, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	var resp serviceResponse
	jsonErr := json.Unmarshal(tr.Body, &resp)
	if jsonErr == nil && resp.Error != nil {
		return nil, tr.Metrics, &ServiceError{StatusCode: tr.StatusCode, Message: *resp.Error}
	}
	if tr.StatusCode < 200 || tr.StatusCode > 299 {
		return nil, tr.Metrics, &ServiceError{StatusCode: tr.StatusCode, Message: snippet(tr.Body)}
	}
	if jsonErr != nil {
		return nil, tr.Metrics, fmt.Errorf("%w: %w", ErrMalformed, jsonErr)
	}
	if resp.Response == nil {
		return nil, tr.Metrics, fmt.Errorf("%w: no chatbot_response", ErrMalformed)
	}
	return &resp, tr.Metrics, nil
}

// Health checks GET /health for {"status":"ok"}.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	tr, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if tr.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: tr.StatusCode, Message: snippet(tr.Body)}
	}
	var resp serviceResponse
	if err := json.Unmarshal(tr.Body, &resp); err != nil || resp.Status == nil || *resp.Status != "ok" {
		return fmt.Errorf("%w: unexpected health body %q", ErrMalformed, snippet(tr.Body))
	}
	return nil
}

func nonNil(h []Turn) []Turn {
	if h == nil {
		return []Turn{}
	}
	return h
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
