package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/ohmynofan/b402-claimer/internal/config"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

type EthersClient struct {
	client   *ethclient.Client
	rpc      *rpc.Client
	network  config.Network
	endpoint string
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	address  common.Address
	status   *model.Status
	log      *logger.ClassLogger
}

// Dial opens an endpoint without probing it. httpClient carries the
// outbound proxy, when one is configured.
func Dial(ctx context.Context, endpoint string, network config.Network, httpClient *http.Client, status *model.Status) (*EthersClient, error) {
	scope := "[Dial] Error :"
	var opts []rpc.ClientOption
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	rpcClient, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s failed to connect RPC (%s): %w", scope, endpoint, err)
	}

	ec := &EthersClient{
		client:   ethclient.NewClient(rpcClient),
		rpc:      rpcClient,
		network:  network,
		endpoint: endpoint,
		status:   status,
	}
	ec.log = logger.NewLogger(ec, status)
	return ec, nil
}

// Connect runs endpoint selection over candidates and returns the client for
// the first reachable one.
func Connect(ctx context.Context, network config.Network, candidates []string, httpClient *http.Client, status *model.Status) (*EthersClient, error) {
	log := logger.NewNamed("EthersClient", status)
	log.Log(fmt.Sprintf("Initializing Ethers Client on %s...", network.Name))

	sel, err := SelectEndpoint(ctx, candidates, func(ctx context.Context, endpoint string) (Probe, error) {
		return Dial(ctx, endpoint, network, httpClient, status)
	}, log)
	if err != nil {
		return nil, err
	}

	ec := sel.Conn.(*EthersClient)
	chainID := sel.ChainID
	status.Update(func(v *model.StatusView) {
		v.Endpoint = ec.endpoint
		v.ChainID = chainID.Int64()
	})
	log.Log(fmt.Sprintf("[RPC] Active endpoint ready (chainId %s).", chainID))
	return ec, nil
}

func (e *EthersClient) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

func (e *EthersClient) Endpoint() string {
	return e.endpoint
}

// ChainID is queried once and cached. An endpoint reporting 0 falls back to
// the configured network's id.
func (e *EthersClient) ChainID(ctx context.Context) (*big.Int, error) {
	if e.chainID != nil {
		return new(big.Int).Set(e.chainID), nil
	}
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if id.Sign() == 0 && e.network.ChainID != 0 {
		id = big.NewInt(int64(e.network.ChainID))
	}
	e.chainID = id
	return new(big.Int).Set(id), nil
}

func (e *EthersClient) ConnectWallet(secret string) error {
	scope := "[ConnectWallet] Error :"
	data := strings.TrimSpace(secret)
	if data == "" {
		return fmt.Errorf("%s invalid account input (seed or private key)", scope)
	}

	var (
		addr       common.Address
		privateKey *ecdsa.PrivateKey
	)
	switch utils.DetermineType(data) {
	case "Secret Phrase":
		a, pk, err := utils.AddressFromMnemonic(data, "")
		if err != nil {
			return fmt.Errorf("%s failed to read from seed phrase: %w", scope, err)
		}
		addr, privateKey = a, pk
	case "Private Key":
		pk, err := utils.PrivateKeyFromHex(data)
		if err != nil {
			return fmt.Errorf("%s invalid private key: %w", scope, err)
		}
		addr, privateKey = crypto.PubkeyToAddress(pk.PublicKey), pk
	default:
		return fmt.Errorf("%s invalid account: Secret Phrase or Private Key required", scope)
	}

	e.address = addr
	e.key = privateKey
	e.status.Update(func(v *model.StatusView) { v.Address = addr.Hex() })
	e.log.Log(fmt.Sprintf("Wallet connected %s", addr.Hex()))
	return nil
}

func (e *EthersClient) Address() common.Address {
	return e.address
}

func (e *EthersClient) RefreshBalance(ctx context.Context) error {
	if (e.address == common.Address{}) {
		return fmt.Errorf("wallet not connected")
	}
	balance, err := e.client.BalanceAt(ctx, e.address, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	formatted := fmt.Sprintf("%s %s", utils.FormatUnits(balance, e.network.Decimals), e.network.Symbol)
	e.status.Update(func(v *model.StatusView) { v.Balance = formatted })
	e.log.Log("Wallet balance fetched: " + formatted)
	return nil
}

func (e *EthersClient) SignMessage(message string) (string, error) {
	scope := "[SignMessage] Error :"
	if e.key == nil {
		return "", fmt.Errorf("%s wallet is not connected", scope)
	}
	return signHash(e.key, accounts.TextHash([]byte(message)))
}

// SignTypedData produces an EIP-712 signature (65 bytes, v in {27,28}).
func (e *EthersClient) SignTypedData(data apitypes.TypedData) (string, error) {
	scope := "[SignTypedData] Error :"
	if e.key == nil {
		return "", fmt.Errorf("%s wallet is not connected", scope)
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return "", fmt.Errorf("%s failed to hash typed data: %w", scope, err)
	}
	return signHash(e.key, hash)
}

func signHash(key *ecdsa.PrivateKey, hash []byte) (string, error) {
	signature, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return hexutil.Encode(signature), nil
}

func (e *EthersClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return e.client.BlockNumber(ctx)
}

type rpcBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []struct {
		Hash common.Hash     `json:"hash"`
		From *common.Address `json:"from"`
	} `json:"transactions"`
}

// BlockWithTransactions fetches a block with full transactions and keeps the
// node-reported sender of each. It returns nil, nil when the node does not
// have the block yet.
func (e *EthersClient) BlockWithTransactions(ctx context.Context, number uint64) (*model.Block, error) {
	var raw json.RawMessage
	if err := e.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var head rpcBlock
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", number, err)
	}

	block := &model.Block{
		Number:       uint64(head.Number),
		Timestamp:    uint64(head.Timestamp),
		Transactions: make([]model.Tx, 0, len(head.Transactions)),
	}
	for _, tx := range head.Transactions {
		item := model.Tx{Hash: tx.Hash.Hex()}
		if tx.From != nil {
			item.From = tx.From.Hex()
		}
		block.Transactions = append(block.Transactions, item)
	}
	return block, nil
}
