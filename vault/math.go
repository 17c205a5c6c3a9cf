package vault

import "math/big"

// mulDivFloor returns floor(x * y / d). d must be nonzero.
func mulDivFloor(x, y, d *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	return p.Quo(p, d)
}

// mulDivCeil returns ceil(x * y / d). d must be nonzero.
func mulDivCeil(x, y, d *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(p, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
