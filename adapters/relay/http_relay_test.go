package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/core"
)

func TestMintKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/keys/mint", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mintKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xowner", req.Owner)

		json.NewEncoder(w).Encode(mintKeyResponse{
			TokenID:   "7",
			PublicKey: "0x04aa",
			Address:   "0xminted",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 0)
	key, err := c.MintKey(context.Background(), "0xowner")
	require.NoError(t, err)
	assert.Equal(t, core.KeyRef{TokenID: "7", PublicKey: "0x04aa", Address: "0xminted"}, key)
}

func TestMintKey_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mintKeyResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.MintKey(context.Background(), "0xowner")
	assert.Error(t, err)
}

func TestAddPayee(t *testing.T) {
	var got addPayeeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payees", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	require.NoError(t, c.AddPayee(context.Background(), "0xprimary"))
	assert.Equal(t, "0xprimary", got.Address)
}

func TestAddPayee_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	err := c.AddPayee(context.Background(), "0xprimary")
	assert.True(t, errors.Is(err, core.ErrProviderRateLimited))
}

func TestPost_ServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "owner address is invalid"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.MintKey(context.Background(), "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner address is invalid")
}

func TestPost_NetworkFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 0)
	err := c.AddPayee(context.Background(), "0xprimary")
	assert.True(t, errors.Is(err, core.ErrNetworkFailure))
}
