package lending

import "fmt"

// RiskTierThresholds expresses the tier boundaries as basis points of the
// liquidation threshold HealthFactorOne.
type RiskTierThresholds struct {
	Safe   uint64
	Medium uint64
	High   uint64
}

// Params are the protocol-wide risk settings of the engine.
type Params struct {
	CloseFactor          uint64
	LiquidationPenalty   uint64
	MaxReserveFactor     uint64
	MaxAssetsPerUser     uint64
	Tiers                RiskTierThresholds
	DefaultInterestModel InterestModel
}

// DefaultParams returns the stock protocol configuration.
func DefaultParams() Params {
	return Params{
		CloseFactor:        5_000,
		LiquidationPenalty: 1_000,
		MaxReserveFactor:   5_000,
		Tiers: RiskTierThresholds{
			Safe:   20_000,
			Medium: 14_000,
			High:   12_000,
		},
		DefaultInterestModel: DefaultInterestModel(),
	}
}

// Validate checks the parameters for out-of-range values.
func (p Params) Validate() error {
	if p.CloseFactor == 0 || p.CloseFactor > BasisPoints {
		return fmt.Errorf("%w: close factor must be within (0, 10000]", ErrInvalidParameters)
	}
	if p.LiquidationPenalty > BasisPoints {
		return fmt.Errorf("%w: liquidation penalty exceeds 10000", ErrInvalidParameters)
	}
	if p.MaxReserveFactor > BasisPoints {
		return fmt.Errorf("%w: max reserve factor exceeds 10000", ErrInvalidParameters)
	}
	t := p.Tiers
	if !(t.Safe >= t.Medium && t.Medium >= t.High && t.High >= BasisPoints) {
		return fmt.Errorf("%w: risk tiers must be descending and at least 10000", ErrInvalidParameters)
	}
	return p.DefaultInterestModel.Validate()
}

// validateReserveParams enforces LTV <= LT <= 10000 and the reserve factor cap.
func (p Params) validateReserveParams(rp ReserveParams) error {
	if rp.LiquidationThreshold > BasisPoints {
		return fmt.Errorf("%w: liquidation threshold exceeds 10000", ErrInvalidParameters)
	}
	if rp.LoanToValue > rp.LiquidationThreshold {
		return fmt.Errorf("%w: loan-to-value exceeds liquidation threshold", ErrInvalidParameters)
	}
	if rp.ReserveFactor > p.MaxReserveFactor {
		return fmt.Errorf("%w: reserve factor exceeds %d", ErrInvalidParameters, p.MaxReserveFactor)
	}
	if rp.MaxCapacity != nil && rp.MaxCapacity.Sign() < 0 {
		return fmt.Errorf("%w: negative capacity", ErrInvalidParameters)
	}
	if rp.Model != nil {
		return rp.Model.Validate()
	}
	return nil
}
