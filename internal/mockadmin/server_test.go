package mockadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/better-analytics/internal/logging"
	"example.com/better-analytics/internal/sqliteutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	srv := httptest.NewServer(NewServer(store, "secret", logging.Discard()).Router())
	t.Cleanup(srv.Close)
	return srv, store
}

type createResponse struct {
	Data struct {
		WebPixelCreate struct {
			WebPixel *struct {
				ID       string `json:"id"`
				Settings string `json:"settings"`
			} `json:"webPixel"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"webPixelCreate"`
	} `json:"data"`
}

func postCreate(t *testing.T, baseURL, shop, token, settings string) (int, createResponse) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"query":     "mutation webPixelCreate($webPixel: WebPixelInput!) { webPixelCreate(webPixel: $webPixel) { userErrors { field message } } }",
		"variables": map[string]any{"webPixel": map[string]any{"settings": settings}},
	})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/shops/"+shop+"/admin/api/graphql.json", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Shopify-Access-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out createResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestCreateIsAppendOnly(t *testing.T) {
	srv, store := newTestServer(t)

	status, first := postCreate(t, srv.URL, "demo.myshopify.com", "secret", `{"ga4AccountId":"G-ABC123"}`)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, first.Data.WebPixelCreate.WebPixel)
	assert.Empty(t, first.Data.WebPixelCreate.UserErrors)
	assert.Contains(t, first.Data.WebPixelCreate.WebPixel.ID, "gid://shopify/WebPixel/")

	status, second := postCreate(t, srv.URL, "demo.myshopify.com", "secret", `{"ga4AccountId":"G-OTHER"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, second.Data.WebPixelCreate.WebPixel)
	require.Len(t, second.Data.WebPixelCreate.UserErrors, 1)
	assert.Contains(t, second.Data.WebPixelCreate.UserErrors[0].Message, "already exists")

	pixels, err := store.ListPixels(context.Background(), "demo.myshopify.com")
	require.NoError(t, err)
	require.Len(t, pixels, 1)
	assert.JSONEq(t, `{"ga4AccountId":"G-ABC123"}`, pixels[0].Settings)
}

func TestCreateRejectsInvalidSettings(t *testing.T) {
	srv, _ := newTestServer(t)
	status, resp := postCreate(t, srv.URL, "demo.myshopify.com", "secret", `{"ga4AccountId":""}`)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Data.WebPixelCreate.UserErrors, 1)
	assert.Equal(t, []string{"settings"}, resp.Data.WebPixelCreate.UserErrors[0].Field)
}

func TestCreateRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	status, _ := postCreate(t, srv.URL, "demo.myshopify.com", "", `{"ga4AccountId":"G-1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = postCreate(t, srv.URL, "demo.myshopify.com", "wrong", `{"ga4AccountId":"G-1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}
