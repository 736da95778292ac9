package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccruedInterest returns amount * rate * elapsed / (10000 * SecondsPerYear),
// truncated. Interest is simple and computed per call, not compounded.
func AccruedInterest(amount *big.Int, rateBps, elapsed uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 || elapsed == 0 {
		return zero()
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(rateBps))
	out.Mul(out, new(big.Int).SetUint64(elapsed))
	den := new(big.Int).Mul(basisPoints, secondsPerYear)
	return out.Quo(out, den)
}

type accrualResult struct {
	depositInterest *big.Int
	borrowInterest  *big.Int
	fee             *big.Int
}

// accruePosition brings one position up to now at the reserve's stored rates
// and folds the interest into the reserve totals. A fresh position only has
// its timestamp set.
func accruePosition(reserve *Reserve, pos *Position, now uint64) accrualResult {
	res := accrualResult{depositInterest: zero(), borrowInterest: zero(), fee: zero()}
	if pos.LastUpdateTime == 0 || pos.IsEmpty() {
		pos.LastUpdateTime = now
		return res
	}
	if now <= pos.LastUpdateTime {
		return res
	}
	elapsed := now - pos.LastUpdateTime

	res.depositInterest = AccruedInterest(pos.Deposited, reserve.LiquidityRate, elapsed)
	res.borrowInterest = AccruedInterest(pos.Borrowed, reserve.BorrowRate, elapsed)
	res.fee = PercentMul(res.borrowInterest, reserve.ReserveFactor)

	pos.Deposited = new(big.Int).Add(pos.Deposited, res.depositInterest)
	pos.Borrowed = new(big.Int).Add(pos.Borrowed, res.borrowInterest)
	pos.LastUpdateTime = now

	reserve.TotalDeposited = new(big.Int).Add(reserve.TotalDeposited, res.depositInterest)
	reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, res.borrowInterest)
	reserve.CollectedFees = new(big.Int).Add(reserve.CollectedFees, res.fee)
	return res
}

// refreshRates recomputes the reserve's stored rates from its current totals.
func refreshRates(reserve *Reserve, now uint64) {
	reserve.BorrowRate, reserve.LiquidityRate = reserve.Model.Rates(reserve.TotalDeposited, reserve.TotalBorrowed, reserve.ReserveFactor)
	reserve.LastUpdateTime = now
}

// accrueOne accrues a single (asset, user) position inside tx.
func (tx *stateTx) accrueOne(asset, user common.Address, now uint64) (*Reserve, *Position, error) {
	reserve, err := tx.reserve(asset)
	if err != nil {
		return nil, nil, err
	}
	pos, err := tx.position(asset, user)
	if err != nil {
		return nil, nil, err
	}
	before := pos.LastUpdateTime
	res := accruePosition(reserve, pos, now)
	if pos.LastUpdateTime != before {
		tx.putPosition(pos)
	}
	if res.depositInterest.Sign() > 0 || res.borrowInterest.Sign() > 0 {
		tx.putReserve(reserve)
	}
	return reserve, pos, nil
}

// accrueAccount accrues every asset the user has touched.
func (tx *stateTx) accrueAccount(user common.Address, now uint64) error {
	assets, err := tx.assetsOf(user)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if _, _, err := tx.accrueOne(asset, user, now); err != nil {
			return err
		}
	}
	return nil
}
