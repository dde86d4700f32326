package params

import (
	"fmt"
	"math/big"
)

// Ether is the number of base units in one native coin.
var Ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Milli returns n thousandths of a native coin in base units.
func Milli(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), Ether)
	return v.Div(v, big.NewInt(1000))
}

// Constants captures the engine-wide values fixed at genesis.
type Constants struct {
	StockUnit       uint64   `json:"stockUnit"`
	MinProductPrice *big.Int `json:"minProductPrice"`
	MaxProductPrice *big.Int `json:"maxProductPrice"`
	BatchLimit      uint64   `json:"batchLimit"`
	// DefaultTimeout is the receiving window granted on every purchase, in seconds.
	DefaultTimeout uint64   `json:"defaultTimeout"`
	ArbitrationFee *big.Int `json:"arbitrationFee"`
	EscrowTimeout  uint64   `json:"escrowTimeout"`

	MinScore      uint64 `json:"minScore"`
	MaxScore      uint64 `json:"maxScore"`
	BaselineScore uint64 `json:"baselineScore"`
	MinRating     uint64 `json:"minRating"`
	MaxRating     uint64 `json:"maxRating"`
	// A verified review moves the score by (rating-NeutralRating)*ReviewStep.
	NeutralRating  uint64 `json:"neutralRating"`
	ReviewStep     uint64 `json:"reviewStep"`
	SuccessBonus   uint64 `json:"successBonus"`
	FailurePenalty uint64 `json:"failurePenalty"`
}

// DefaultConstants returns the production defaults.
func DefaultConstants() Constants {
	return Constants{
		StockUnit:       1,
		MinProductPrice: Milli(1),
		MaxProductPrice: new(big.Int).Mul(big.NewInt(1000), Ether),
		BatchLimit:      50,
		DefaultTimeout:  7 * 24 * 60 * 60,
		ArbitrationFee:  Milli(10),
		EscrowTimeout:   7 * 24 * 60 * 60,
		MinScore:        0,
		MaxScore:        1000,
		BaselineScore:   500,
		MinRating:       1,
		MaxRating:       5,
		NeutralRating:   3,
		ReviewStep:      10,
		SuccessBonus:    5,
		FailurePenalty:  10,
	}
}

// Validate reports the first inconsistency in c.
func (c Constants) Validate() error {
	if c.StockUnit == 0 {
		return fmt.Errorf("params: stock unit must be positive")
	}
	if c.MinProductPrice == nil || c.MaxProductPrice == nil || c.MinProductPrice.Sign() <= 0 {
		return fmt.Errorf("params: product price bounds must be positive")
	}
	if c.MinProductPrice.Cmp(c.MaxProductPrice) > 0 {
		return fmt.Errorf("params: min product price exceeds max")
	}
	if c.BatchLimit == 0 {
		return fmt.Errorf("params: batch limit must be positive")
	}
	if c.DefaultTimeout == 0 || c.EscrowTimeout == 0 {
		return fmt.Errorf("params: timeouts must be positive")
	}
	if c.ArbitrationFee == nil || c.ArbitrationFee.Sign() < 0 {
		return fmt.Errorf("params: arbitration fee must not be negative")
	}
	if c.MinScore > c.MaxScore || c.BaselineScore < c.MinScore || c.BaselineScore > c.MaxScore {
		return fmt.Errorf("params: baseline score outside [%d, %d]", c.MinScore, c.MaxScore)
	}
	if c.MinRating == 0 || c.MinRating > c.MaxRating {
		return fmt.Errorf("params: invalid rating range [%d, %d]", c.MinRating, c.MaxRating)
	}
	if c.NeutralRating < c.MinRating || c.NeutralRating > c.MaxRating {
		return fmt.Errorf("params: neutral rating outside rating range")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Constants) Clone() Constants {
	out := c
	out.MinProductPrice = cloneBig(c.MinProductPrice)
	out.MaxProductPrice = cloneBig(c.MaxProductPrice)
	out.ArbitrationFee = cloneBig(c.ArbitrationFee)
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
