package rpc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
)

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidParams(fmt.Sprintf("%s: invalid address %q", field, raw))
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts a non-negative decimal integer in base units. An empty
// value is zero.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, invalidParams(fmt.Sprintf("%s: invalid amount %q", field, raw))
	}
	return value, nil
}

func parseRole(raw string) (access.Role, error) {
	role, err := access.ParseRole(raw)
	if err != nil {
		return 0, invalidParams(err.Error())
	}
	return role, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }
