package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config captures the TOML configuration for the lending protocol and the
// reserves it lists at start-up.
type Config struct {
	CloseFactorBps        uint64              `toml:"CloseFactorBps"`
	LiquidationPenaltyBps uint64              `toml:"LiquidationPenaltyBps"`
	MaxReserveFactorBps   uint64              `toml:"MaxReserveFactorBps"`
	MaxAssetsPerUser      uint64              `toml:"MaxAssetsPerUser"`
	FeeRecipient          string              `toml:"FeeRecipient"`
	Tiers                 TierConfig          `toml:"tiers"`
	Interest              InterestModelConfig `toml:"interest"`
	Reserves              []ReserveConfig     `toml:"reserves"`
}

// TierConfig mirrors RiskTierThresholds.
type TierConfig struct {
	SafeBps   uint64 `toml:"SafeBps"`
	MediumBps uint64 `toml:"MediumBps"`
	HighBps   uint64 `toml:"HighBps"`
}

// InterestModelConfig mirrors InterestModel.
type InterestModelConfig struct {
	BaseRateBps           uint64 `toml:"BaseRateBps"`
	Slope1Bps             uint64 `toml:"Slope1Bps"`
	Slope2Bps             uint64 `toml:"Slope2Bps"`
	OptimalUtilizationBps uint64 `toml:"OptimalUtilizationBps"`
	MaxBorrowRateBps      uint64 `toml:"MaxBorrowRateBps"`
}

func (c InterestModelConfig) isZero() bool {
	return c == InterestModelConfig{}
}

// Model converts the configuration into an InterestModel.
func (c InterestModelConfig) Model() InterestModel {
	return InterestModel{
		BaseRate:           c.BaseRateBps,
		Slope1:             c.Slope1Bps,
		Slope2:             c.Slope2Bps,
		OptimalUtilization: c.OptimalUtilizationBps,
		MaxBorrowRate:      c.MaxBorrowRateBps,
	}
}

// ReserveConfig lists one asset.
type ReserveConfig struct {
	Asset                   string               `toml:"Asset"`
	Symbol                  string               `toml:"Symbol"`
	Decimals                uint64               `toml:"Decimals"`
	LoanToValueBps          uint64               `toml:"LoanToValueBps"`
	LiquidationThresholdBps uint64               `toml:"LiquidationThresholdBps"`
	ReserveFactorBps        uint64               `toml:"ReserveFactorBps"`
	MaxCapacity             string               `toml:"MaxCapacity"`
	InitialPrice            string               `toml:"InitialPrice"`
	Interest                *InterestModelConfig `toml:"interest"`
}

// LoadConfig decodes a TOML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode lending config: %w", err)
	}
	cfg.EnsureDefaults()
	return &cfg, nil
}

// EnsureDefaults fills unset protocol values from DefaultParams.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	def := DefaultParams()
	if c.CloseFactorBps == 0 {
		c.CloseFactorBps = def.CloseFactor
	}
	if c.LiquidationPenaltyBps == 0 {
		c.LiquidationPenaltyBps = def.LiquidationPenalty
	}
	if c.MaxReserveFactorBps == 0 {
		c.MaxReserveFactorBps = def.MaxReserveFactor
	}
	if c.Tiers == (TierConfig{}) {
		c.Tiers = TierConfig{SafeBps: def.Tiers.Safe, MediumBps: def.Tiers.Medium, HighBps: def.Tiers.High}
	}
	if c.Interest.isZero() {
		m := def.DefaultInterestModel
		c.Interest = InterestModelConfig{
			BaseRateBps:           m.BaseRate,
			Slope1Bps:             m.Slope1,
			Slope2Bps:             m.Slope2,
			OptimalUtilizationBps: m.OptimalUtilization,
			MaxBorrowRateBps:      m.MaxBorrowRate,
		}
	}
}

// Params converts the configuration into validated engine parameters.
func (c Config) Params() (Params, error) {
	p := Params{
		CloseFactor:          c.CloseFactorBps,
		LiquidationPenalty:   c.LiquidationPenaltyBps,
		MaxReserveFactor:     c.MaxReserveFactorBps,
		MaxAssetsPerUser:     c.MaxAssetsPerUser,
		Tiers:                RiskTierThresholds{Safe: c.Tiers.SafeBps, Medium: c.Tiers.MediumBps, High: c.Tiers.HighBps},
		DefaultInterestModel: c.Interest.Model(),
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// FeeRecipientAddress parses the configured fee recipient, returning the zero
// address when unset.
func (c Config) FeeRecipientAddress() (common.Address, error) {
	trimmed := strings.TrimSpace(c.FeeRecipient)
	if trimmed == "" {
		return common.Address{}, nil
	}
	return ParseAddress(trimmed)
}

// Address parses the reserve asset address.
func (r ReserveConfig) Address() (common.Address, error) {
	return ParseAddress(r.Asset)
}

// Params converts the listing into ReserveParams.
func (r ReserveConfig) Params() (ReserveParams, error) {
	capacity, err := parseOptionalAmount(r.MaxCapacity)
	if err != nil {
		return ReserveParams{}, fmt.Errorf("reserve %s capacity: %w", r.Symbol, err)
	}
	params := ReserveParams{
		LoanToValue:          r.LoanToValueBps,
		LiquidationThreshold: r.LiquidationThresholdBps,
		ReserveFactor:        r.ReserveFactorBps,
		MaxCapacity:          capacity,
		Decimals:             r.Decimals,
	}
	if r.Interest != nil && !r.Interest.isZero() {
		model := r.Interest.Model()
		params.Model = &model
	}
	return params, nil
}

// Price parses the optional initial price.
func (r ReserveConfig) Price() (*big.Int, error) {
	return parseOptionalAmount(r.InitialPrice)
}

// ParseAddress decodes a 0x-prefixed hex address and rejects the zero address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidAddress
	}
	return addr, nil
}

func parseOptionalAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return zero(), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}
