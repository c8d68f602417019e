package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const webPixelCreateMutation = `mutation webPixelCreate($webPixel: WebPixelInput!) {
  webPixelCreate(webPixel: $webPixel) {
    userErrors {
      field
      message
    }
    webPixel {
      id
      settings
    }
  }
}`

// PixelCreator is the one remote operation the reconciler can call. There is no
// update, delete or query counterpart.
type PixelCreator interface {
	CreatePixel(ctx context.Context, tenant, settingsJSON string) (CreateResult, error)
}

// UserError mirrors a GraphQL user error; Field is a path into the input.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// FieldPath joins the error path with dots.
func (e UserError) FieldPath() string {
	return strings.Join(e.Field, ".")
}

// WebPixel is the created-resource descriptor.
type WebPixel struct {
	ID       string `json:"id"`
	Settings string `json:"settings"`
}

// CreateResult is a decoded webPixelCreate payload. Either WebPixel or UserErrors is set.
type CreateResult struct {
	WebPixel   *WebPixel   `json:"webPixel"`
	UserErrors []UserError `json:"userErrors"`
}

// Client captures the GraphQL call issued toward the admin API.
type Client struct {
	httpClient       *http.Client
	endpointTemplate string
	accessToken      string
}

// NewClient configures a client; endpointTemplate contains "{shop}".
func NewClient(endpointTemplate, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		endpointTemplate: endpointTemplate,
		accessToken:      accessToken,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data struct {
		WebPixelCreate *CreateResult `json:"webPixelCreate"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CreatePixel runs the webPixelCreate mutation. A returned error means the call
// itself failed; remote validation problems come back in CreateResult.UserErrors.
func (c *Client) CreatePixel(ctx context.Context, tenant, settingsJSON string) (CreateResult, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: webPixelCreateMutation,
		Variables: map[string]any{
			"webPixel": map[string]any{"settings": settingsJSON},
		},
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("encode mutation: %w", err)
	}
	endpoint := strings.ReplaceAll(c.endpointTemplate, "{shop}", url.PathEscape(tenant))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CreateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CreateResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CreateResult{}, fmt.Errorf("admin api responded with %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	var payload graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return CreateResult{}, fmt.Errorf("decode webPixelCreate: %w", err)
	}
	if len(payload.Errors) > 0 {
		msgs := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			msgs = append(msgs, e.Message)
		}
		return CreateResult{}, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if payload.Data.WebPixelCreate == nil {
		return CreateResult{}, errors.New("graphql: empty webPixelCreate payload")
	}
	return *payload.Data.WebPixelCreate, nil
}

// SettingsPayload serialises the pixel settings the storefront runtime receives.
func SettingsPayload(measurementID string) (string, error) {
	b, err := json.Marshal(struct {
		GA4AccountID string `json:"ga4AccountId"`
	}{GA4AccountID: measurementID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
