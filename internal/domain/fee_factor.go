package domain

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// FeeFactor is a fraction in [0, 1]. It is backed by big.Rat rather than
// float64 so that writing a factor to fee_policies and reading it back
// preserves the exact decimal representation (Testable Property 5) --
// float64 round-trips through Postgres' numeric type without loss, but
// big.Rat makes that guarantee independent of the column type chosen.
type FeeFactor struct {
	r *big.Rat
}

// NewFeeFactor builds a FeeFactor from a decimal string, e.g. "0.005".
func NewFeeFactor(decimal string) (FeeFactor, error) {
	r, ok := new(big.Rat).SetString(decimal)
	if !ok {
		return FeeFactor{}, fmt.Errorf("invalid fee factor %q", decimal)
	}
	return FeeFactor{r: r}, validateFactorRange(r)
}

// FeeFactorFromRat wraps an existing big.Rat.
func FeeFactorFromRat(r *big.Rat) (FeeFactor, error) {
	if r == nil {
		return FeeFactor{r: big.NewRat(0, 1)}, nil
	}
	cp := new(big.Rat).Set(r)
	return FeeFactor{r: cp}, validateFactorRange(cp)
}

func validateFactorRange(r *big.Rat) error {
	if r.Sign() < 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return fmt.Errorf("fee factor %s out of range [0,1]", r.RatString())
	}
	return nil
}

// Rat returns the underlying rational, never nil.
func (f FeeFactor) Rat() *big.Rat {
	if f.r == nil {
		return big.NewRat(0, 1)
	}
	return f.r
}

// String renders the exact decimal form used for persistence.
func (f FeeFactor) String() string {
	return f.Rat().RatString()
}

// Float64 is for metrics/logging only -- never for fee computation.
func (f FeeFactor) Float64() float64 {
	v, _ := f.Rat().Float64()
	return v
}

// Value implements database/sql/driver.Valuer, persisting the exact
// decimal string (numeric column) the way fee_policies.surplus_factor
// etc. are stored per §6.
func (f FeeFactor) Value() (driver.Value, error) {
	return f.Rat().FloatString(18), nil
}

// Scan implements sql.Scanner.
func (f *FeeFactor) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		r, ok := new(big.Rat).SetString(v)
		if !ok {
			return fmt.Errorf("invalid fee factor in database: %q", v)
		}
		f.r = r
	case []byte:
		r, ok := new(big.Rat).SetString(string(v))
		if !ok {
			return fmt.Errorf("invalid fee factor in database: %q", string(v))
		}
		f.r = r
	case nil:
		f.r = big.NewRat(0, 1)
	default:
		return fmt.Errorf("unsupported fee factor scan type %T", src)
	}
	return nil
}
