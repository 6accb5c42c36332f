package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/layer-3/garuda/core"
)

// Client talks to the key relay over HTTP. The relay mints key-pairs, keeps
// custody of them, signs transactions on their behalf and registers payer
// addresses for sponsored transactions.
type Client struct {
	baseURL string
	http    *http.Client
	apiKey  string
}

// NewClient creates a relay client. A zero timeout falls back to 30s;
// relying on the transport's defaults here has bitten before.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type mintKeyRequest struct {
	Owner string `json:"owner,omitempty"`
}

type mintKeyResponse struct {
	TokenID   string `json:"token_id"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

// MintKey mints a fresh key-pair owned by owner
func (c *Client) MintKey(ctx context.Context, owner string) (core.KeyRef, error) {
	var resp mintKeyResponse
	if err := c.post(ctx, "/keys/mint", mintKeyRequest{Owner: owner}, &resp); err != nil {
		return core.KeyRef{}, fmt.Errorf("mint key: %w", core.ClassifyProviderError(err))
	}

	key := core.KeyRef{
		TokenID:   resp.TokenID,
		PublicKey: resp.PublicKey,
		Address:   resp.Address,
	}
	if key.IsZero() {
		return core.KeyRef{}, fmt.Errorf("relay returned an empty key")
	}
	return key, nil
}

type ownerAccountRequest struct {
	Method         string `json:"method"`
	ExternalUserID string `json:"external_user_id,omitempty"`
	MethodValue    string `json:"method_value,omitempty"`
}

type ownerAccountResponse struct {
	Address string `json:"address"`
}

// OwnerAccount derives the custody account for an authenticated method
func (c *Client) OwnerAccount(ctx context.Context, method core.AuthMethod, externalUserID, methodValue string) (string, error) {
	req := ownerAccountRequest{
		Method:         string(method),
		ExternalUserID: externalUserID,
		MethodValue:    methodValue,
	}

	var resp ownerAccountResponse
	if err := c.post(ctx, "/accounts/derive", req, &resp); err != nil {
		return "", fmt.Errorf("derive owner account: %w", core.ClassifyProviderError(err))
	}
	if resp.Address == "" {
		return "", fmt.Errorf("relay returned an empty account address")
	}
	return resp.Address, nil
}

type addPayeeRequest struct {
	Address string `json:"address"`
}

// AddPayee registers an address with the payer service
func (c *Client) AddPayee(ctx context.Context, address string) error {
	if err := c.post(ctx, "/payees", addPayeeRequest{Address: address}, nil); err != nil {
		return fmt.Errorf("add payee: %w", core.ClassifyProviderError(err))
	}
	return nil
}

type signTxRequest struct {
	TokenID string `json:"token_id"`
	RawTx   string `json:"raw_tx"`
}

type signTxResponse struct {
	SignedTx string `json:"signed_tx"`
}

// SignTransaction asks the relay to sign a transaction with a custodied key
func (c *Client) SignTransaction(ctx context.Context, key core.KeyRef, tx *types.Transaction) (*types.Transaction, error) {
	rawTx, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	var resp signTxResponse
	req := signTxRequest{TokenID: key.TokenID, RawTx: hexutil.Encode(rawTx)}
	if err := c.post(ctx, "/keys/sign-tx", req, &resp); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", core.ClassifyProviderError(err))
	}

	signedBytes, err := hexutil.Decode(resp.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	var signed types.Transaction
	if err := signed.UnmarshalBinary(signedBytes); err != nil {
		return nil, fmt.Errorf("failed to parse signed transaction: %w", err)
	}
	return &signed, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetworkFailure, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", core.ErrProviderRateLimited, relayError(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, relayError(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode relay response: %w", err)
		}
	}
	return nil
}

// relayError extracts the relay's error message when the body is the usual
// {"error": "..."} shape, otherwise returns the body verbatim.
func relayError(raw []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(raw)
}
