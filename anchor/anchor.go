package anchor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xPolygon/cdk-rpc/rpc"
	rpctypes "github.com/0xPolygon/cdk-rpc/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerlabs/ledgercore/relayer/types"
)

var jSONRPCCall = rpc.JSONRPCCall

// Sender is the interface that defines the methods used to anchor block
// commitments
type Sender interface {
	// SubmitCommitment anchors a commitment and returns the anchor side
	// transaction hash
	SubmitCommitment(ctx context.Context, commitment *types.CommitmentData) (common.Hash, error)
	// TargetHeight returns the highest block height the anchor has committed
	TargetHeight(ctx context.Context) (uint64, error)
}

var _ Sender = (*Client)(nil)

// Client talks JSON-RPC to the anchor service
type Client struct {
	url string
}

// NewClient returns a client ready to be used
func NewClient(url string) *Client {
	return &Client{url: url}
}

// SubmitCommitment anchors a commitment and returns the anchor side
// transaction hash
func (c *Client) SubmitCommitment(
	ctx context.Context, commitment *types.CommitmentData,
) (common.Hash, error) {
	response, err := jSONRPCCall(c.url, "anchor_submitCommitment", commitment)
	if err != nil {
		return common.Hash{}, err
	}
	if response.Error != nil {
		return common.Hash{}, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}

	var result rpctypes.ArgHash
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return common.Hash{}, err
	}

	return result.Hash(), nil
}

// TargetHeight returns the highest block height the anchor has committed
func (c *Client) TargetHeight(ctx context.Context) (uint64, error) {
	response, err := jSONRPCCall(c.url, "anchor_getTargetHeight")
	if err != nil {
		return 0, err
	}
	if response.Error != nil {
		return 0, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}

	var result rpctypes.ArgUint64
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return 0, err
	}

	return uint64(result), nil
}
