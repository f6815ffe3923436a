// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"decred.org/mmswap/dex/dexnet"
	"golang.org/x/time/rate"
)

// StatusApplied is the only operation result status that means the
// operation's effects took place.
const StatusApplied = "applied"

// BlockHeader is the subset of a block header used by the wallet.
type BlockHeader struct {
	Protocol string `json:"protocol"`
	ChainID  string `json:"chain_id"`
	Hash     string `json:"hash"`
	Level    int64  `json:"level"`
}

// RPCParameters is the JSON form of transaction parameters.
type RPCParameters struct {
	Entrypoint string          `json:"entrypoint"`
	Value      json.RawMessage `json:"value"`
}

// OperationResult is the application result of a content.
type OperationResult struct {
	Status string          `json:"status"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// ContentMetadata carries a content's result once applied.
type ContentMetadata struct {
	OperationResult *OperationResult `json:"operation_result,omitempty"`
}

// RPCContent is the JSON form of an operation content.
type RPCContent struct {
	Kind         string           `json:"kind"`
	Source       string           `json:"source"`
	Fee          string           `json:"fee"`
	Counter      string           `json:"counter"`
	GasLimit     string           `json:"gas_limit"`
	StorageLimit string           `json:"storage_limit"`
	Amount       string           `json:"amount,omitempty"`
	Destination  string           `json:"destination,omitempty"`
	Parameters   *RPCParameters   `json:"parameters,omitempty"`
	PublicKey    string           `json:"public_key,omitempty"`
	Metadata     *ContentMetadata `json:"metadata,omitempty"`
}

// RPCOperation is an operation as listed in a block.
type RPCOperation struct {
	Protocol  string        `json:"protocol,omitempty"`
	ChainID   string        `json:"chain_id,omitempty"`
	Hash      string        `json:"hash,omitempty"`
	Branch    string        `json:"branch"`
	Contents  []*RPCContent `json:"contents"`
	Signature string        `json:"signature,omitempty"`
}

// ForgeRequest is the body of a forge request.
type ForgeRequest struct {
	Branch   string        `json:"branch"`
	Contents []*RPCContent `json:"contents"`
}

// PreapplyRequest is one operation to preapply.
type PreapplyRequest struct {
	Protocol  string        `json:"protocol"`
	Branch    string        `json:"branch"`
	Contents  []*RPCContent `json:"contents"`
	Signature string        `json:"signature"`
}

// NodeRPC is the subset of the node's RPC API used by the wallet.
type NodeRPC interface {
	Counter(ctx context.Context, addr Address) (*big.Int, error)
	BlockHeader(ctx context.Context, ref string) (*BlockHeader, error)
	// ManagerKey is empty if the account's key is not revealed.
	ManagerKey(ctx context.Context, addr Address) (string, error)
	ForgeOperations(ctx context.Context, chainID, blockHash string, req *ForgeRequest) ([]byte, error)
	PreapplyOperations(ctx context.Context, reqs []*PreapplyRequest) ([]*RPCOperation, error)
	InjectOperation(ctx context.Context, signedHex string) (string, error)
	Operations(ctx context.Context, level int64) ([][]*RPCOperation, error)
	OperationHashes(ctx context.Context, level int64) ([][]string, error)
	SingleOperation(ctx context.Context, level int64, validation, offset int) (*RPCOperation, error)
	// BigMapGet returns nil if the key is not in the big map.
	BigMapGet(ctx context.Context, contract Address, key Value, keyType string) (Value, error)
	Storage(ctx context.Context, contract Address) (Value, error)
	Balance(ctx context.Context, addr Address) (*big.Int, error)
}

// rpcClient is a NodeRPC over HTTP.
type rpcClient struct {
	url     string
	limiter *rate.Limiter
}

var _ NodeRPC = (*rpcClient)(nil)

func newRPCClient(nodeURL string, requestsPerSecond float64) (*rpcClient, error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid node URL %q: %w", nodeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("node URL %q must be http or https", nodeURL)
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	return &rpcClient{
		url:     strings.TrimRight(nodeURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}, nil
}

func (c *rpcClient) get(ctx context.Context, path string, thing any) error {
	return dexnet.Get(ctx, c.url+path, thing, dexnet.WithLimiter(c.limiter))
}

func (c *rpcClient) post(ctx context.Context, path string, thing, body any) error {
	return dexnet.Post(ctx, c.url+path, thing, body, dexnet.WithLimiter(c.limiter))
}

func parseBigString(s string) (*big.Int, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return i, nil
}

func contractPath(addr Address, what string) string {
	return "/chains/main/blocks/head/context/contracts/" + addr.String() + "/" + what
}

func (c *rpcClient) Counter(ctx context.Context, addr Address) (*big.Int, error) {
	var s string
	if err := c.get(ctx, contractPath(addr, "counter"), &s); err != nil {
		return nil, err
	}
	return parseBigString(s)
}

func (c *rpcClient) BlockHeader(ctx context.Context, ref string) (*BlockHeader, error) {
	hdr := new(BlockHeader)
	return hdr, c.get(ctx, "/chains/main/blocks/"+url.PathEscape(ref)+"/header", hdr)
}

func (c *rpcClient) ManagerKey(ctx context.Context, addr Address) (string, error) {
	var key *string
	if err := c.get(ctx, contractPath(addr, "manager_key"), &key); err != nil {
		return "", err
	}
	if key == nil {
		return "", nil
	}
	return *key, nil
}

func (c *rpcClient) ForgeOperations(ctx context.Context, chainID, blockHash string, req *ForgeRequest) ([]byte, error) {
	var h string
	path := fmt.Sprintf("/chains/%s/blocks/%s/helpers/forge/operations", chainID, blockHash)
	if err := c.post(ctx, path, &h, req); err != nil {
		return nil, err
	}
	return hex.DecodeString(h)
}

func (c *rpcClient) PreapplyOperations(ctx context.Context, reqs []*PreapplyRequest) ([]*RPCOperation, error) {
	var ops []*RPCOperation
	return ops, c.post(ctx, "/chains/main/blocks/head/helpers/preapply/operations", &ops, reqs)
}

func (c *rpcClient) InjectOperation(ctx context.Context, signedHex string) (string, error) {
	var opHash string
	return opHash, c.post(ctx, "/injection/operation", &opHash, signedHex)
}

func levelPath(level int64) string {
	return "/chains/main/blocks/" + strconv.FormatInt(level, 10)
}

func (c *rpcClient) Operations(ctx context.Context, level int64) ([][]*RPCOperation, error) {
	var ops [][]*RPCOperation
	return ops, c.get(ctx, levelPath(level)+"/operations", &ops)
}

func (c *rpcClient) OperationHashes(ctx context.Context, level int64) ([][]string, error) {
	var hashes [][]string
	return hashes, c.get(ctx, levelPath(level)+"/operation_hashes", &hashes)
}

func (c *rpcClient) SingleOperation(ctx context.Context, level int64, validation, offset int) (*RPCOperation, error) {
	op := new(RPCOperation)
	return op, c.get(ctx, fmt.Sprintf("%s/operations/%d/%d", levelPath(level), validation, offset), op)
}

func (c *rpcClient) BigMapGet(ctx context.Context, contract Address, key Value, keyType string) (Value, error) {
	body := map[string]any{
		"key":  michelineJSON(key),
		"type": map[string]string{"prim": keyType},
	}
	var raw json.RawMessage
	if err := c.post(ctx, contractPath(contract, "big_map_get"), &raw, body); err != nil {
		if errors.Is(err, dexnet.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return ParseMicheline(raw)
}

func (c *rpcClient) Storage(ctx context.Context, contract Address) (Value, error) {
	var raw json.RawMessage
	if err := c.get(ctx, contractPath(contract, "storage"), &raw); err != nil {
		return nil, err
	}
	return ParseMicheline(raw)
}

func (c *rpcClient) Balance(ctx context.Context, addr Address) (*big.Int, error) {
	var s string
	if err := c.get(ctx, contractPath(addr, "balance"), &s); err != nil {
		return nil, err
	}
	return parseBigString(s)
}

// rpcContent converts a content to the node's JSON form.
func rpcContent(c Content) (*RPCContent, error) {
	switch tx := c.(type) {
	case *Reveal:
		return &RPCContent{
			Kind:         "reveal",
			Source:       tx.Source.Address().String(),
			Fee:          tx.Fee.String(),
			Counter:      tx.Counter.String(),
			GasLimit:     tx.GasLimit.String(),
			StorageLimit: tx.StorageLimit.String(),
			PublicKey:    tx.PublicKey.String(),
		}, nil
	case *BabylonTransaction:
		rc := &RPCContent{
			Kind:         "transaction",
			Source:       tx.Source.Address().String(),
			Fee:          tx.Fee.String(),
			Counter:      tx.Counter.String(),
			GasLimit:     tx.GasLimit.String(),
			StorageLimit: tx.StorageLimit.String(),
			Amount:       tx.Amount.String(),
			Destination:  tx.Destination.Address().String(),
		}
		if tx.Parameters != nil {
			v, err := MarshalMicheline(tx.Parameters.Value)
			if err != nil {
				return nil, err
			}
			rc.Parameters = &RPCParameters{Entrypoint: string(tx.Parameters.Entrypoint), Value: v}
		}
		return rc, nil
	}
	return nil, fmt.Errorf("cannot convert %T content", c)
}

// babylonFromRPC rebuilds a transaction content from its JSON form.
func babylonFromRPC(rc *RPCContent) (*BabylonTransaction, error) {
	srcAddr, err := ParseAddress(rc.Source)
	if err != nil {
		return nil, err
	}
	src, err := PubkeyHashFromAddress(srcAddr)
	if err != nil {
		return nil, err
	}
	dstAddr, err := ParseAddress(rc.Destination)
	if err != nil {
		return nil, err
	}
	dst, err := ContractIDFromAddress(dstAddr)
	if err != nil {
		return nil, err
	}
	tx := &BabylonTransaction{Source: src, Destination: dst}
	for _, f := range []struct {
		s   string
		dst **big.Int
	}{
		{rc.Fee, &tx.Fee}, {rc.Counter, &tx.Counter}, {rc.GasLimit, &tx.GasLimit},
		{rc.StorageLimit, &tx.StorageLimit}, {rc.Amount, &tx.Amount},
	} {
		if *f.dst, err = parseBigString(f.s); err != nil {
			return nil, err
		}
	}
	if rc.Parameters != nil {
		v, err := ParseMicheline(rc.Parameters.Value)
		if err != nil {
			return nil, err
		}
		tx.Parameters = &Parameters{Entrypoint: Entrypoint(rc.Parameters.Entrypoint), Value: v}
	}
	return tx, nil
}

// operationFromRPC rebuilds a signed operation holding a single transaction.
func operationFromRPC(op *RPCOperation, tx *BabylonTransaction) (*Operation, error) {
	branch, err := DecodeBlockHash(op.Branch)
	if err != nil {
		return nil, err
	}
	out := &Operation{Branch: branch, Contents: []Content{tx}}
	if op.Signature != "" {
		b, err := b58CheckDecode(op.Signature)
		if err != nil {
			return nil, err
		}
		if len(b) < signatureSize {
			return nil, fmt.Errorf("invalid signature %q", op.Signature)
		}
		out.Signature = b[len(b)-signatureSize:]
	}
	return out, nil
}
