// Package chain bridges the on-chain ISO8583 pallet to the wire protocol:
// a watcher subscribes to finalized blocks and synthesizes ISO-8583
// messages from decoded events, and a submitter turns processor outcomes
// back into signed extrinsics.
package chain

import (
	"fmt"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"pcidss-oracle/pkg/logger"

	"go.uber.org/zap"
)

// Config describes how to reach the chain and which account submits
// finality/registration extrinsics on the oracle's behalf.
type Config struct {
	WSEndpoint   string
	SignerSeed   string
	PalletName   string
	CallRegister string
	CallFinality string
}

// Client wraps a Substrate RPC connection and the keyring used to sign
// oracle-originated extrinsics.
type Client struct {
	api    *gsrpc.SubstrateAPI
	signer signature.KeyringPair
	meta   *types.Metadata
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	api, err := gsrpc.NewSubstrateAPI(cfg.WSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain endpoint %q: %w", cfg.WSEndpoint, err)
	}

	signer, err := signature.KeyringPairFromSecret(cfg.SignerSeed, 42)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signer keypair: %w", err)
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain metadata: %w", err)
	}

	logger.Info("connected to chain", zap.String("endpoint", cfg.WSEndpoint), zap.String("signer", signer.Address))

	return &Client{api: api, signer: signer, meta: meta, cfg: cfg}, nil
}

// refreshMetadata re-fetches runtime metadata so call/event indices match
// the current runtime. Nothing in the package calls it: metadata is fetched
// once, when the client is created.
func (c *Client) refreshMetadata() error {
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return fmt.Errorf("failed to refresh chain metadata: %w", err)
	}
	c.meta = meta
	return nil
}

func (c *Client) Close() {
	if c.api != nil && c.api.Client != nil {
		c.api.Client.Close()
	}
}
