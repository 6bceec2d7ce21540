package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const oracleABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"assetId","type":"bytes32"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"uint8","name":"decimals","type":"uint8"},{"internalType":"string","name":"source","type":"string"},{"internalType":"bool","name":"degraded","type":"bool"}],"name":"updatePrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32[]","name":"assetIds","type":"bytes32[]"},{"internalType":"uint256[]","name":"prices","type":"uint256[]"},{"internalType":"uint256[]","name":"timestamps","type":"uint256[]"},{"internalType":"uint8[]","name":"decimals","type":"uint8[]"},{"internalType":"bool[]","name":"degradedFlags","type":"bool[]"}],"name":"updatePriceBatch","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"assetId","type":"bytes32"}],"name":"getPrice","outputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"uint8","name":"decimals","type":"uint8"},{"internalType":"bool","name":"degraded","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var oracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleABI = parsed
}

// Update is one committed quote.
type Update struct {
	AssetID   [32]byte
	Symbol    string
	Price     *big.Int
	Timestamp int64
	Decimals  uint8
	Source    string
	Degraded  bool
}

// PriceData is the read-path result of getPrice.
type PriceData struct {
	Price     *big.Int
	Timestamp int64
	Decimals  uint8
	Degraded  bool
}

// Client is the narrow contract surface the feeder depends on.
type Client interface {
	SupportsBatch() bool
	UpdatePrice(ctx context.Context, update Update) (string, error)
	UpdatePriceBatch(ctx context.Context, updates []Update) (string, error)
	GetPrice(ctx context.Context, assetID [32]byte) (PriceData, error)
}

// Options parameterise the Ethereum-backed client.
type Options struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	Timeout         time.Duration
	BatchEnabled    bool
	GasLimit        uint64
}

// EthClient commits price updates via signed transactions and reads back via
// eth_call.
type EthClient struct {
	opts      Options
	logger    zerolog.Logger
	contract  common.Address
	key       *ecdsa.PrivateKey
	from      common.Address
	client    *ethclient.Client
	clientMux sync.Mutex
}

// New validates options and builds the client.
func New(opts Options, logger zerolog.Logger) (*EthClient, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("oracle: rpc url not configured")
	}
	if opts.ContractAddress == "" {
		return nil, errors.New("oracle: contract address not configured")
	}
	if opts.PrivateKey == "" {
		return nil, errors.New("oracle: signer key not configured")
	}
	if opts.ChainID == 0 {
		return nil, errors.New("oracle: chain id not configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 600_000
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.New("oracle: invalid signer key")
	}

	return &EthClient{
		opts:     opts,
		logger:   logger.With().Str("component", "oracle_client").Logger(),
		contract: common.HexToAddress(opts.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// SupportsBatch reports whether the deployed contract accepts batch commits.
func (c *EthClient) SupportsBatch() bool { return c.opts.BatchEnabled }

// UpdatePrice commits a single asset's quote.
func (c *EthClient) UpdatePrice(ctx context.Context, update Update) (string, error) {
	payload, err := oracleABI.Pack("updatePrice",
		update.AssetID,
		update.Price,
		big.NewInt(update.Timestamp),
		update.Decimals,
		update.Source,
		update.Degraded,
	)
	if err != nil {
		return "", err
	}
	return c.send(ctx, payload)
}

// UpdatePriceBatch commits all quotes in one transaction as parallel arrays.
func (c *EthClient) UpdatePriceBatch(ctx context.Context, updates []Update) (string, error) {
	if len(updates) == 0 {
		return "", errors.New("oracle: empty batch")
	}

	ids := make([][32]byte, len(updates))
	prices := make([]*big.Int, len(updates))
	timestamps := make([]*big.Int, len(updates))
	decimals := make([]uint8, len(updates))
	degraded := make([]bool, len(updates))
	for i, u := range updates {
		ids[i] = u.AssetID
		prices[i] = u.Price
		timestamps[i] = big.NewInt(u.Timestamp)
		decimals[i] = u.Decimals
		degraded[i] = u.Degraded
	}

	payload, err := oracleABI.Pack("updatePriceBatch", ids, prices, timestamps, decimals, degraded)
	if err != nil {
		return "", err
	}
	return c.send(ctx, payload)
}

// GetPrice reads the stored quote for assetID.
func (c *EthClient) GetPrice(ctx context.Context, assetID [32]byte) (PriceData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return PriceData{}, err
	}

	payload, err := oracleABI.Pack("getPrice", assetID)
	if err != nil {
		return PriceData{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: payload}, nil)
	if err != nil {
		return PriceData{}, err
	}

	outputs, err := oracleABI.Unpack("getPrice", res)
	if err != nil {
		return PriceData{}, err
	}
	if len(outputs) != 4 {
		return PriceData{}, errors.New("oracle: unexpected getPrice response")
	}

	price, ok := outputs[0].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("oracle: failed to decode price")
	}
	ts, ok := outputs[1].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("oracle: failed to decode timestamp")
	}
	dec, ok := outputs[2].(uint8)
	if !ok {
		return PriceData{}, errors.New("oracle: failed to decode decimals")
	}
	deg, ok := outputs[3].(bool)
	if !ok {
		return PriceData{}, errors.New("oracle: failed to decode degraded flag")
	}

	return PriceData{Price: price, Timestamp: ts.Int64(), Decimals: dec, Degraded: deg}, nil
}

func (c *EthClient) send(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return "", err
	}

	nonce, err := client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), c.opts.GasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(c.opts.ChainID)), c.key)
	if err != nil {
		return "", err
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}

	hash := signed.Hash().Hex()
	c.logger.Info().Str("tx", hash).Uint64("nonce", nonce).Msg("commit transaction sent")
	return hash, nil
}

func (c *EthClient) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Client = (*EthClient)(nil)
