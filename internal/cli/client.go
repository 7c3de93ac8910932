package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	"github.com/canonica-labs/querio/pkg/api"
	"github.com/canonica-labs/querio/pkg/models"
)

// RemoteClient is the HTTP client for a running querio server.
type RemoteClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewRemoteClient creates a new client for the server at endpoint.
func NewRemoteClient(endpoint, token string) *RemoteClient {
	return &RemoteClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the configured server endpoint.
func (c *RemoteClient) Endpoint() string {
	return c.endpoint
}

// Advise asks the server for advice on query.
func (c *RemoteClient) Advise(ctx context.Context, query string, offline bool) (*models.AdviseResponse, error) {
	body, err := json.Marshal(models.AdviseRequest{Query: &query, Offline: offline})
	if err != nil {
		return nil, err
	}

	var result models.AdviseResponse
	if err := c.do(ctx, http.MethodPost, api.EndpointAdvise, bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AuditSummary retrieves the audit summary for the trailing window.
func (c *RemoteClient) AuditSummary(ctx context.Context, window time.Duration) (*observability.AuditSummary, error) {
	path := api.EndpointAuditSummary + "?window=" + url.QueryEscape(window.String())

	var result observability.AuditSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Version retrieves the server build information.
func (c *RemoteClient) Version(ctx context.Context) (*models.VersionResponse, error) {
	var result models.VersionResponse
	if err := c.do(ctx, http.MethodGet, api.EndpointVersion, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckHealth verifies server connectivity.
func (c *RemoteClient) CheckHealth(ctx context.Context) error {
	var result models.HealthResponse
	return c.do(ctx, http.MethodGet, api.EndpointHealth, nil, &result)
}

// do performs a request and decodes a 200 response into out.
func (c *RemoteClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	if c.token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("querio server %s unreachable: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wireCategories maps server error codes back to local categories so the
// exit code of a remote call matches a local one.
var wireCategories = map[string]errors.ErrorCode{
	api.CodeInvalidRequest:        errors.CodeValidation,
	api.CodeQueryRejected:         errors.CodeValidation,
	api.CodeAuthFailed:            errors.CodeAuth,
	api.CodePlanSourceUnavailable: errors.CodePlanSource,
	api.CodeRelationNotFound:      errors.CodePlanSource,
	api.CodePlanTimeout:           errors.CodePlanSource,
	api.CodeInvalidConfig:         errors.CodeConfig,
	api.CodeInternal:              errors.CodeInternal,
}

// parseErrorResponse parses an error response from the server.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("server error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	code, ok := wireCategories[errResp.Code]
	if !ok {
		code = errors.CodeInternal
	}
	return &errors.QuerioError{
		Code:       code,
		Message:    errResp.Error,
		Reason:     errResp.Reason,
		Suggestion: errResp.Suggestion,
	}
}
