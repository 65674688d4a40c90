package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"verisync/pkg/platform/circuit"
	"verisync/pkg/platform/sentinel"
)

// HTTPFactory builds HTTP-backed clients against one provider API root. All
// clients share one circuit breaker since they hit the same host; the breaker
// feeds the health endpoint and transition logs rather than short-circuiting
// calls, so a recovered provider closes it again on its own.
type HTTPFactory struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewHTTPFactory(baseURL string, logger *slog.Logger) *HTTPFactory {
	return &HTTPFactory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: circuit.New("provider", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:  logger,
	}
}

func (f *HTTPFactory) ForKey(apiKey string) API {
	return &Client{baseURL: f.baseURL, apiKey: apiKey, client: f.client, breaker: f.breaker, logger: f.logger}
}

// Health reports the provider unreachable while the breaker is open.
func (f *HTTPFactory) Health(context.Context) error {
	if f.breaker.IsOpen() {
		return fmt.Errorf("provider circuit %q open", f.breaker.Name())
	}
	return nil
}

// Client calls the provider API with a single tenant's credential.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func (c *Client) CreateApplicant(ctx context.Context, req ApplicantRequest) (Applicant, error) {
	var applicant Applicant
	if err := c.doJSON(ctx, http.MethodPost, "/applicants", req, &applicant); err != nil {
		return Applicant{}, fmt.Errorf("create applicant: %w", err)
	}
	return applicant, nil
}

func (c *Client) UploadDocument(ctx context.Context, req DocumentUpload) (RemoteDocument, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"applicant_id": req.ApplicantID,
		"type":         req.Type,
	}
	if req.Side != "" {
		fields["side"] = req.Side
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
	}
	if _, err := part.Write(req.File); err != nil {
		return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
	}
	if err := writer.Close(); err != nil {
		return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", &body)
	if err != nil {
		return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Token token="+c.apiKey)

	var doc RemoteDocument
	if err := c.send(httpReq, &doc); err != nil {
		return RemoteDocument{}, fmt.Errorf("upload document: %w", err)
	}
	return doc, nil
}

func (c *Client) CreateCheck(ctx context.Context, req CheckRequest) (RemoteCheck, error) {
	var check RemoteCheck
	if err := c.doJSON(ctx, http.MethodPost, "/checks", req, &check); err != nil {
		return RemoteCheck{}, fmt.Errorf("create check: %w", err)
	}
	return check, nil
}

func (c *Client) GetCheck(ctx context.Context, checkID string) (RemoteCheck, error) {
	var check RemoteCheck
	if err := c.doJSON(ctx, http.MethodGet, "/checks/"+checkID, nil, &check); err != nil {
		return RemoteCheck{}, fmt.Errorf("get check: %w", err)
	}
	return check, nil
}

func (c *Client) ListReports(ctx context.Context, checkID string) ([]Report, error) {
	var out struct {
		Reports []Report `json:"reports"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/reports?check_id="+checkID, nil, &out); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out.Reports, nil
}

func (c *Client) RegisterWebhook(ctx context.Context, url string) (WebhookRegistration, error) {
	req := map[string]any{"url": url, "events": []string{"check.completed", "check.withdrawn"}}
	var registration WebhookRegistration
	if err := c.doJSON(ctx, http.MethodPost, "/webhooks", req, &registration); err != nil {
		return WebhookRegistration{}, fmt.Errorf("register webhook: %w", err)
	}
	return registration, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/webhooks/"+webhookID, nil, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Token token="+c.apiKey)
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess()
		return sentinel.ErrNotFound
	case resp.StatusCode >= 500:
		c.recordFailure()
		return fmt.Errorf("%w: provider returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.recordSuccess()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, payload)
	}
	c.recordSuccess()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// Any response, success or client error, proves the provider reachable. Only
// transport failures and 5xx count against the breaker.

func (c *Client) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("provider circuit opened", "circuit", c.breaker.Name())
	}
}

func (c *Client) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("provider circuit closed", "circuit", c.breaker.Name())
	}
}
