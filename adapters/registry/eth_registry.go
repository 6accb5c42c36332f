package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/internal/eth"
	"github.com/layer-3/garuda/ports"
)

// registryABI is the application/permission registry surface garuda
// consumes. The contract's storage layout is its own business; only these
// calls are part of the interface.
const registryABI = `[
	{"type":"function","name":"keysOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"tokenIds","type":"uint256[]"},{"name":"publicKeys","type":"bytes[]"}]},
	{"type":"function","name":"permittedApps","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"appIds","type":"uint256[]"}]},
	{"type":"function","name":"permittedActions","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"capabilityIds","type":"string[]"}]},
	{"type":"function","name":"permittedCapabilities","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"},{"name":"appId","type":"uint256"}],"outputs":[{"name":"capabilityIds","type":"string[]"}]},
	{"type":"function","name":"permittedVersion","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"},{"name":"appId","type":"uint256"}],"outputs":[{"name":"version","type":"uint256"}]},
	{"type":"function","name":"appMetadata","stateMutability":"view","inputs":[{"name":"appId","type":"uint256"}],"outputs":[{"name":"name","type":"string"},{"name":"latestVersion","type":"uint256"},{"name":"redirectUris","type":"string[]"}]},
	{"type":"function","name":"registerPermittedAction","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"capabilityId","type":"string"}],"outputs":[]},
	{"type":"function","name":"removePermittedAction","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"capabilityId","type":"string"}],"outputs":[]},
	{"type":"function","name":"grantPermission","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"appId","type":"uint256"},{"name":"appVersion","type":"uint256"},{"name":"capabilityIds","type":"string[]"},{"name":"policyIds","type":"string[]"},{"name":"policyParams","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"regrantPermission","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"appId","type":"uint256"},{"name":"appVersion","type":"uint256"},{"name":"capabilityIds","type":"string[]"},{"name":"policyIds","type":"string[]"},{"name":"policyParams","type":"bytes[]"}],"outputs":[]}
]`

// TxSigner signs registry transactions on behalf of a custodied key. The
// relay implements this for minted keys.
type TxSigner interface {
	SignTransaction(ctx context.Context, key core.KeyRef, tx *types.Transaction) (*types.Transaction, error)
}

// EthRegistry implements the AppRegistry interface against the on-chain
// registry contract.
type EthRegistry struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	signer   TxSigner
}

// NewEthRegistry creates a registry client bound to the contract address
func NewEthRegistry(client *ethclient.Client, contract common.Address, chainID *big.Int, signer TxSigner) (ports.AppRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	return &EthRegistry{
		client:   client,
		contract: contract,
		abi:      parsed,
		chainID:  chainID,
		signer:   signer,
	}, nil
}

// OwnedKeys enumerates the key-pairs owned by an address, in on-chain
// enumeration order
func (r *EthRegistry) OwnedKeys(ctx context.Context, owner string) ([]core.KeyRef, error) {
	out, err := r.call(ctx, "keysOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}

	tokenIDs, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected keysOf result")
	}
	publicKeys, ok := out[1].([][]byte)
	if !ok || len(publicKeys) != len(tokenIDs) {
		return nil, fmt.Errorf("unexpected keysOf result")
	}

	keys := make([]core.KeyRef, 0, len(tokenIDs))
	for i, id := range tokenIDs {
		pubHex := hexutil.Encode(publicKeys[i])
		addr, err := eth.AddressFromPublicKey(pubHex)
		if err != nil {
			return nil, fmt.Errorf("key %s has malformed public key: %w", id, err)
		}
		keys = append(keys, core.KeyRef{
			TokenID:   id.String(),
			PublicKey: pubHex,
			Address:   addr.Hex(),
		})
	}

	return keys, nil
}

// PermittedApps returns the application ids permitted for an agent key
func (r *EthRegistry) PermittedApps(ctx context.Context, agent core.KeyRef) ([]uint64, error) {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return nil, err
	}

	out, err := r.call(ctx, "permittedApps", tokenID)
	if err != nil {
		return nil, err
	}

	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected permittedApps result")
	}

	appIDs := make([]uint64, 0, len(raw))
	for _, id := range raw {
		appIDs = append(appIDs, id.Uint64())
	}
	return appIDs, nil
}

// PermittedActions returns every capability id registered under the agent
// key
func (r *EthRegistry) PermittedActions(ctx context.Context, agent core.KeyRef) ([]string, error) {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return nil, err
	}

	out, err := r.call(ctx, "permittedActions", tokenID)
	if err != nil {
		return nil, err
	}

	ids, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected permittedActions result")
	}
	return ids, nil
}

// PermittedCapabilities returns the capability ids registered for an agent
// key against one application
func (r *EthRegistry) PermittedCapabilities(ctx context.Context, agent core.KeyRef, appID uint64) ([]string, error) {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return nil, err
	}

	out, err := r.call(ctx, "permittedCapabilities", tokenID, new(big.Int).SetUint64(appID))
	if err != nil {
		return nil, err
	}

	ids, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected permittedCapabilities result")
	}
	return ids, nil
}

// PermittedVersion returns the granted version for an application, zero
// when none
func (r *EthRegistry) PermittedVersion(ctx context.Context, agent core.KeyRef, appID uint64) (uint64, error) {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return 0, err
	}

	out, err := r.call(ctx, "permittedVersion", tokenID, new(big.Int).SetUint64(appID))
	if err != nil {
		return 0, err
	}

	version, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected permittedVersion result")
	}
	return version.Uint64(), nil
}

// AppMetadata returns registry metadata for an application
func (r *EthRegistry) AppMetadata(ctx context.Context, appID uint64) (*core.App, error) {
	out, err := r.call(ctx, "appMetadata", new(big.Int).SetUint64(appID))
	if err != nil {
		return nil, err
	}

	name, _ := out[0].(string)
	latest, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected appMetadata result")
	}
	uris, ok := out[2].([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected appMetadata result")
	}

	return &core.App{
		ID:            appID,
		Name:          name,
		LatestVersion: latest.Uint64(),
		RedirectURIs:  uris,
	}, nil
}

// RegisterPermittedAction registers a capability under the agent key.
// The contract treats re-registration as a no-op, so the call is safe to
// repeat.
func (r *EthRegistry) RegisterPermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return err
	}

	return r.transact(ctx, primary, "registerPermittedAction", tokenID, capabilityID)
}

// RemovePermittedAction removes a capability from the agent key
func (r *EthRegistry) RemovePermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error {
	tokenID, err := parseTokenID(agent)
	if err != nil {
		return err
	}

	return r.transact(ctx, primary, "removePermittedAction", tokenID, capabilityID)
}

// GrantPermission submits the permission grant, signed by the primary key
// on behalf of the agent key
func (r *EthRegistry) GrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	return r.submitGrant(ctx, primary, grant, "grantPermission")
}

// RegrantPermission re-grants a previously granted application
func (r *EthRegistry) RegrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	return r.submitGrant(ctx, primary, grant, "regrantPermission")
}

func (r *EthRegistry) submitGrant(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant, method string) error {
	tokenID, err := parseTokenID(grant.AgentKey)
	if err != nil {
		return err
	}

	capabilityIDs := make([]string, 0, len(grant.Selections))
	policyIDs := make([]string, 0, len(grant.Selections))
	policyParams := make([][]byte, 0, len(grant.Selections))
	for _, sel := range grant.Selections {
		encoded, err := EncodePolicyParams(sel.PolicyParams)
		if err != nil {
			return fmt.Errorf("capability %s: %w", sel.CapabilityID, err)
		}
		capabilityIDs = append(capabilityIDs, sel.CapabilityID)
		policyIDs = append(policyIDs, sel.PolicyID)
		policyParams = append(policyParams, encoded)
	}

	return r.transact(ctx, primary, method,
		tokenID,
		new(big.Int).SetUint64(grant.AppID),
		new(big.Int).SetUint64(grant.AppVersion),
		capabilityIDs,
		policyIDs,
		policyParams,
	)
}

func (r *EthRegistry) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	output, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.contract,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("registry call %s failed: %w", method, err)
	}

	out, err := r.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

func (r *EthRegistry) transact(ctx context.Context, primary core.KeyRef, method string, args ...interface{}) error {
	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}

	from := common.HexToAddress(primary.Address)

	nonce, err := r.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to suggest gas price: %w", err)
	}

	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &r.contract,
		Data: input,
	})
	if err != nil {
		return fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &r.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signed, err := r.signer.SignTransaction(ctx, primary, tx)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", method, err)
	}

	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, r.client, signed)
	if err != nil {
		return fmt.Errorf("failed waiting for %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted in tx %s", core.ErrTransactionFailed, method, signed.Hash())
	}

	return nil
}

func parseTokenID(key core.KeyRef) (*big.Int, error) {
	id, ok := new(big.Int).SetString(key.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid key token id %q", key.TokenID)
	}
	return id, nil
}

// EncodePolicyParams serializes policy parameters for the registry. Values
// shaped like {"amount": "...", "decimals": N} are converted from their
// human-readable decimal form to integer base units before encoding, so the
// contract only ever sees integers.
func EncodePolicyParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return json.Marshal(map[string]any{})
	}

	normalized := make(map[string]any, len(params))
	for k, v := range params {
		converted, err := normalizeParam(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		normalized[k] = converted
	}

	return json.Marshal(normalized)
}

func normalizeParam(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}

	rawAmount, hasAmount := m["amount"]
	rawDecimals, hasDecimals := m["decimals"]
	if !hasAmount || !hasDecimals {
		return v, nil
	}

	amount, err := decimalFromAny(rawAmount)
	if err != nil {
		return nil, err
	}
	decimals, err := int32FromAny(rawDecimals)
	if err != nil {
		return nil, err
	}

	base := amount.Shift(decimals)
	if !base.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	if base.IsNegative() {
		return nil, fmt.Errorf("amount %s must not be negative", amount)
	}

	return base.BigInt().String(), nil
}

func decimalFromAny(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case string:
		return decimal.NewFromString(val)
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case json.Number:
		return decimal.NewFromString(val.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func int32FromAny(v any) (int32, error) {
	switch val := v.(type) {
	case float64:
		return int32(val), nil
	case int:
		return int32(val), nil
	case int32:
		return val, nil
	case int64:
		return int32(val), nil
	case json.Number:
		i, err := val.Int64()
		return int32(i), err
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return 0, err
		}
		return int32(d.IntPart()), nil
	default:
		return 0, fmt.Errorf("unsupported decimals type %T", v)
	}
}
