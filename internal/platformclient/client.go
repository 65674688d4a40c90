package platformclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"verisync/pkg/platform/sentinel"
)

// Exception fragments the platform returns for duplicate webhook
// registrations. Registration treats these as success.
const (
	duplicateKeyMessage     = "duplicate key value violates unique constraint"
	duplicateWebhookMessage = "a webhook with the url and event already exists"
)

// Client is the HTTP implementation of API.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) AuthAdmin(ctx context.Context, token string) (AdminUser, error) {
	var out struct {
		Data struct {
			ID      string `json:"id"`
			Company string `json:"company"`
			Groups  []struct {
				Name string `json:"name"`
			} `json:"groups"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/", token, nil, &out); err != nil {
		return AdminUser{}, fmt.Errorf("auth admin: %w", err)
	}
	user := AdminUser{ID: out.Data.ID, Company: out.Data.Company}
	for _, group := range out.Data.Groups {
		user.Groups = append(user.Groups, group.Name)
	}
	return user, nil
}

func (c *Client) GetCompany(ctx context.Context, token string) (Company, error) {
	var out struct {
		Data Company `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/company/", token, nil, &out); err != nil {
		return Company{}, fmt.Errorf("get company: %w", err)
	}
	return out.Data, nil
}

func (c *Client) RegisterWebhook(ctx context.Context, token string, reg WebhookRegistration) error {
	err := c.do(ctx, http.MethodPost, "/admin/webhooks/", token, reg, nil)
	if err != nil {
		message := strings.ToLower(err.Error())
		if strings.Contains(message, duplicateKeyMessage) ||
			strings.Contains(message, duplicateWebhookMessage) {
			return nil
		}
		return fmt.Errorf("register webhook: %w", err)
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, token, userID string) (User, error) {
	var out struct {
		Data User `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+userID+"/", token, nil, &out); err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return out.Data, nil
}

func (c *Client) GetDocument(ctx context.Context, token, documentID string) (Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/users/documents/"+documentID+"/", token, nil, &out); err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return out.Data, nil
}

func (c *Client) DownloadFile(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	return data, fileName(resp.Header.Get("Content-Disposition"), url), nil
}

func (c *Client) PatchDocument(ctx context.Context, token, documentID string, patch DocumentPatch) error {
	if err := c.do(ctx, http.MethodPatch, "/admin/users/documents/"+documentID+"/", token, patch, nil); err != nil {
		return fmt.Errorf("patch document: %w", err)
	}
	return nil
}

func (c *Client) PatchUser(ctx context.Context, token, userID string, patch UserPatch) error {
	if err := c.do(ctx, http.MethodPatch, "/admin/users/"+userID+"/", token, patch, nil); err != nil {
		return fmt.Errorf("patch user: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
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
	req.Header.Set("Authorization", "Token "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("platform rejected token: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: platform returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

func fileName(contentDisposition, url string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if idx := strings.LastIndex(url, "/"); idx >= 0 && idx < len(url)-1 {
		return url[idx+1:]
	}
	return "document"
}
