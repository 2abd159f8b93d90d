package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityClient_RefreshIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key-1", r.URL.Query().Get("key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		if r.PostForm.Get("refresh_token") != "good" {
			writeJSON(w, http.StatusBadRequest, `{"error":{"code":400,"message":"TOKEN_EXPIRED"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id_token":"live-id-token","refresh_token":"good","expires_in":"3600","user_id":"fb-1"}`)
	}))
	defer srv.Close()

	c := NewIdentityClient(&config.Firebase{APIKey: "api-key-1", TokenURL: srv.URL})

	token, err := c.RefreshIDToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "live-id-token", token)

	_, err = c.RefreshIDToken(context.Background(), "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_EXPIRED")
}

func TestIdentityClient_RefreshIDToken_UnreadableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>upstream down</html>")
	}))
	defer srv.Close()

	c := NewIdentityClient(&config.Firebase{APIKey: "api-key-1", TokenURL: srv.URL})

	_, err := c.RefreshIDToken(context.Background(), "good")
	require.Error(t, err)
	assert.Equal(t, "identity token refresh failed: status=502", err.Error())
}

func TestIdentityClient_RefreshIDToken_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// advertise more bytes than are sent so the body read fails
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id_token":`)
	}))
	defer srv.Close()

	c := NewIdentityClient(&config.Firebase{APIKey: "api-key-1", TokenURL: srv.URL})

	_, err := c.RefreshIDToken(context.Background(), "good")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read identity response")
}
