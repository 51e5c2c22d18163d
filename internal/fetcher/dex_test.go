package fetcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestGasCostUSDT(t *testing.T) {
	// 30 gwei × 150000 gas = 0.0045 native; at 2000 USDT/native that is 9 USDT.
	gasPrice := new(big.Int).Mul(big.NewInt(30), big.NewInt(1_000_000_000))
	cost := gasCostUSDT(gasPrice, swapGasLimit, decimal.NewFromInt(2000))

	if !cost.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("期望 9 USDT, 实际 %s", cost)
	}
}

func TestGasCostUSDTZeroPrice(t *testing.T) {
	cost := gasCostUSDT(big.NewInt(0), swapGasLimit, decimal.NewFromInt(2000))
	if !cost.IsZero() {
		t.Fatalf("zero gas price must cost nothing, got %s", cost)
	}
}

func TestEstimateGasSkippedWithoutWNative(t *testing.T) {
	d := NewDex(DexOptions{
		RPCURL:        "http://127.0.0.1:1",
		RouterAddress: "0x0000000000000000000000000000000000000001",
		USDTAddress:   "0x0000000000000000000000000000000000000002",
	}, noopLogger())

	if got := d.estimateGasUSDT(context.Background(), nil, common.Address{}); got != nil {
		t.Fatalf("missing wnative address must yield nil estimate, got %s", got)
	}
}
