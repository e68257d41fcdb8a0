package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

// AuthorityClient queries the CRM authorization API. Every failure yields an
// empty authority.
type AuthorityClient struct {
	url        string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func NewAuthorityClient(url string, options Options) *AuthorityClient {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AuthorityClient{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type authorityRequest struct {
	DataID           string `json:"dataId"`
	HighSeasAccounts bool   `json:"highSeasAccounts"`
	Type             string `json:"type"`
	UserID           string `json:"userId"`
}

type authorityResult struct {
	Role             string            `json:"role"`
	AuthList         []json.RawMessage `json:"authList"`
	HighSeasAccounts json.RawMessage   `json:"highSeasAccounts"`
}

var errMalformedResponse = errors.New("malformed authority response")

func (c *AuthorityClient) Fetch(ctx context.Context, userID string) (*authority.Authority, string) {
	if strings.TrimSpace(userID) == "" {
		slog.Info("crm_authority_anonymous")
		return authority.Empty(), ""
	}
	if c.url == "" {
		slog.Error("crm_authority_url_missing")
		return authority.Empty(), ""
	}

	result, err := resilience.Do(ctx, c.executor, "crm.authority", func(ctx context.Context) (authorityResult, error) {
		return c.fetch(ctx, userID)
	}, classifyAuthorityError)
	if err != nil {
		slog.Error("authority_fetch_failed", "user_id", userID, "error", err.Error())
		return authority.Empty(), ""
	}

	if strings.EqualFold(strings.TrimSpace(result.Role), domain.RoleAdmin) {
		return authority.Bypass(), result.Role
	}

	grants := make([]authority.Grant, 0, len(result.AuthList))
	for _, raw := range result.AuthList {
		var g authority.Grant
		if err := json.Unmarshal(raw, &g); err != nil {
			continue
		}
		grants = append(grants, g)
	}
	var highSeas []string
	if len(result.HighSeasAccounts) > 0 {
		if err := json.Unmarshal(result.HighSeasAccounts, &highSeas); err != nil {
			slog.Warn("crm_high_seas_accounts_ignored", "user_id", userID, "error", err.Error())
			highSeas = nil
		}
	}

	auth := authority.New(grants, highSeas)
	slog.Info("crm_authority_fetched", "user_id", userID, "items", auth.Stats())
	return auth, result.Role
}

func (c *AuthorityClient) fetch(ctx context.Context, userID string) (authorityResult, error) {
	body, err := json.Marshal(authorityRequest{Type: string(domain.CrmOpportunity), UserID: userID})
	if err != nil {
		return authorityResult{}, fmt.Errorf("marshal authority request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return authorityResult{}, fmt.Errorf("create authority request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authorityResult{}, fmt.Errorf("crm authority request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authorityResult{}, resilience.NewStatusError("crm", "authority", resp)
	}
	return decodeAuthorityResponse(resp.Body)
}

func decodeAuthorityResponse(r io.Reader) (authorityResult, error) {
	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return authorityResult{}, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	rawCode, hasCode := envelope["code"]
	rawResult, hasResult := envelope["result"]
	if !hasCode || !hasResult {
		return authorityResult{}, fmt.Errorf("%w: code or result missing", errMalformedResponse)
	}

	var code int
	if err := json.Unmarshal(rawCode, &code); err != nil {
		return authorityResult{}, fmt.Errorf("%w: code: %v", errMalformedResponse, err)
	}
	if code != 0 {
		var message string
		_ = json.Unmarshal(envelope["message"], &message)
		return authorityResult{}, fmt.Errorf("%w: code %d: %s", errMalformedResponse, code, message)
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(rawResult, &result); err != nil || result == nil {
		return authorityResult{}, fmt.Errorf("%w: result is not an object", errMalformedResponse)
	}

	out := authorityResult{HighSeasAccounts: result["highSeasAccounts"]}
	if raw, ok := result["role"]; ok {
		_ = json.Unmarshal(raw, &out.Role)
	}
	if raw, ok := result["authList"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &out.AuthList); err != nil {
			return authorityResult{}, fmt.Errorf("%w: authList is not a list", errMalformedResponse)
		}
	}
	return out, nil
}

func classifyAuthorityError(err error) resilience.ErrorClassification {
	if errors.Is(err, errMalformedResponse) {
		return resilience.Permanent
	}
	return resilience.ClassifyHTTPError(err)
}
