package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexalign/internal/align"
)

const (
	routerABIJSON = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

	// USDT uses 6 decimals on every chain this runs against.
	usdtDecimals = 6

	// nativeDecimals is the wei precision of the chain's native token.
	nativeDecimals = 18

	// swapGasLimit approximates a single router swap. The estimate only feeds
	// the cost model; execution never relies on it.
	swapGasLimit = 150000
)

var routerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("failed to parse router ABI: " + err.Error())
	}
	routerABI = parsed
}

// DexOptions parameterise the on-chain quote sampler.
type DexOptions struct {
	RPCURL         string
	RouterAddress  string
	USDTAddress    string
	WNativeAddress string
	ProbeSizesUSDT []float64
	Timeout        time.Duration
}

// Dex samples real execution quotes via read-only router calls. It never
// signs or submits a transaction.
type Dex struct {
	opts      DexOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewDex builds a new on-chain quote sampler.
func NewDex(opts DexOptions, logger zerolog.Logger) *Dex {
	return &Dex{opts: opts, logger: logger.With().Str("component", "dex_fetcher").Logger()}
}

// FetchDEX probes the router with each configured notional and returns one
// observed quote per probe that succeeds. Probes are real venue responses;
// a failed probe is skipped, never substituted.
func (d *Dex) FetchDEX(ctx context.Context, tokenAddress string, tokenDecimals int) ([]align.Quote, error) {
	if d.opts.RPCURL == "" {
		return nil, errors.New("dex rpc url not configured")
	}
	if d.opts.RouterAddress == "" || d.opts.USDTAddress == "" {
		return nil, errors.New("router and usdt addresses required")
	}
	if tokenAddress == "" {
		return nil, errors.New("token address required")
	}
	if tokenDecimals <= 0 {
		tokenDecimals = 18
	}
	if len(d.opts.ProbeSizesUSDT) == 0 {
		return nil, errors.New("no probe sizes configured")
	}

	timeout := d.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	router := common.HexToAddress(d.opts.RouterAddress)
	path := []common.Address{
		common.HexToAddress(d.opts.USDTAddress),
		common.HexToAddress(tokenAddress),
	}

	// One gas estimate covers the whole sample; nil when any input for it is
	// unavailable, never a made-up figure.
	gasEstimate := d.estimateGasUSDT(ctx, client, router)

	now := time.Now().UTC()
	quotes := make([]align.Quote, 0, len(d.opts.ProbeSizesUSDT))
	for _, size := range d.opts.ProbeSizesUSDT {
		amountIn := decimal.NewFromFloat(size)
		if !amountIn.IsPositive() {
			continue
		}

		tokensOut, probeErr := d.probe(ctx, client, router, path, amountIn, tokenDecimals)
		if probeErr != nil {
			d.logger.Warn().Err(probeErr).Str("size_usdt", amountIn.String()).Msg("probe failed; skipping size")
			continue
		}
		if !tokensOut.IsPositive() {
			continue
		}

		quotes = append(quotes, align.Quote{
			AmountInUSDT:    amountIn,
			TokensOut:       tokensOut,
			ExecPrice:       amountIn.Div(tokensOut),
			GasEstimateUSDT: gasEstimate,
			Source:          "router:" + d.opts.RouterAddress,
			Timestamp:       now,
		})
	}

	if len(quotes) == 0 {
		return nil, errors.New("all router probes failed")
	}
	return quotes, nil
}

func (d *Dex) probe(ctx context.Context, client *ethclient.Client, router common.Address, path []common.Address, amountIn decimal.Decimal, tokenDecimals int) (decimal.Decimal, error) {
	atoms := amountIn.Shift(usdtDecimals).Round(0)
	return d.amountOut(ctx, client, router, path, atoms.BigInt(), int32(tokenDecimals))
}

// amountOut performs one getAmountsOut call and scales the final hop by the
// output token's decimals.
func (d *Dex) amountOut(ctx context.Context, client *ethclient.Client, router common.Address, path []common.Address, amountIn *big.Int, outDecimals int32) (decimal.Decimal, error) {
	payload, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &router, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := routerABI.Unpack("getAmountsOut", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected getAmountsOut response")
	}

	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return decimal.Decimal{}, errors.New("failed to decode getAmountsOut output")
	}

	return decimal.NewFromBigInt(amounts[len(amounts)-1], -outDecimals), nil
}

// estimateGasUSDT converts the node's suggested gas price into an observed
// USDT cost for one swap: gas price × swap gas, priced with the router's own
// wnative→USDT rate. Any missing input yields nil.
func (d *Dex) estimateGasUSDT(ctx context.Context, client *ethclient.Client, router common.Address) *decimal.Decimal {
	if d.opts.WNativeAddress == "" {
		return nil
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("gas price unavailable; skipping gas estimate")
		return nil
	}

	oneNative := new(big.Int).Exp(big.NewInt(10), big.NewInt(nativeDecimals), nil)
	path := []common.Address{
		common.HexToAddress(d.opts.WNativeAddress),
		common.HexToAddress(d.opts.USDTAddress),
	}
	nativePrice, err := d.amountOut(ctx, client, router, path, oneNative, usdtDecimals)
	if err != nil {
		d.logger.Warn().Err(err).Msg("native price unavailable; skipping gas estimate")
		return nil
	}
	if !nativePrice.IsPositive() {
		return nil
	}

	cost := gasCostUSDT(gasPrice, swapGasLimit, nativePrice)
	return &cost
}

// gasCostUSDT prices gasLimit units of gas at gasPriceWei in USDT.
func gasCostUSDT(gasPriceWei *big.Int, gasLimit uint64, nativePriceUSDT decimal.Decimal) decimal.Decimal {
	wei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasLimit))
	return decimal.NewFromBigInt(wei, -nativeDecimals).Mul(nativePriceUSDT)
}

func (d *Dex) getClient(ctx context.Context) (*ethclient.Client, error) {
	d.clientMux.Lock()
	defer d.clientMux.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	client, err := ethclient.DialContext(ctx, d.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	d.client = client
	return client, nil
}

var _ DEXQuoteFetcher = (*Dex)(nil)
