package lending

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Default market parameters.
const (
	DefaultMaxInterestRate     uint32 = 3_000
	DefaultStalenessSeconds    uint64 = 300
	DefaultLiquidationBonusBps uint32 = 500
	DefaultSafetyMarginBps     uint32 = 2_500
	DefaultMaxOffersPerUser           = 10
	DefaultMaxLoansPerUser            = 20
	DefaultMaxCollateralRatio  uint32 = 50_000
	DefaultPageLimit           uint32 = 100
)

// Config captures the runtime parameters of the lending engine. Values that
// the admin can change at runtime (max rate, oracle, pause) live in the
// persisted MarketConfig instead.
type Config struct {
	StalenessSeconds    uint64 `toml:"StalenessSeconds"`
	LiquidationBonusBps uint32 `toml:"LiquidationBonusBps"`
	SafetyMarginBps     uint32 `toml:"SafetyMarginBps"`
	MaxOffersPerUser    int    `toml:"MaxOffersPerUser"`
	MaxLoansPerUser     int    `toml:"MaxLoansPerUser"`
	MaxCollateralRatio  uint32 `toml:"MaxCollateralRatio"`
	MaxPageLimit        uint32 `toml:"MaxPageLimit"`
}

// DefaultConfig returns the production parameter set.
func DefaultConfig() Config {
	return Config{
		StalenessSeconds:    DefaultStalenessSeconds,
		LiquidationBonusBps: DefaultLiquidationBonusBps,
		SafetyMarginBps:     DefaultSafetyMarginBps,
		MaxOffersPerUser:    DefaultMaxOffersPerUser,
		MaxLoansPerUser:     DefaultMaxLoansPerUser,
		MaxCollateralRatio:  DefaultMaxCollateralRatio,
		MaxPageLimit:        DefaultPageLimit,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StalenessSeconds == 0 {
		c.StalenessSeconds = def.StalenessSeconds
	}
	if c.LiquidationBonusBps == 0 {
		c.LiquidationBonusBps = def.LiquidationBonusBps
	}
	if c.SafetyMarginBps == 0 {
		c.SafetyMarginBps = def.SafetyMarginBps
	}
	if c.MaxOffersPerUser == 0 {
		c.MaxOffersPerUser = def.MaxOffersPerUser
	}
	if c.MaxLoansPerUser == 0 {
		c.MaxLoansPerUser = def.MaxLoansPerUser
	}
	if c.MaxCollateralRatio == 0 {
		c.MaxCollateralRatio = def.MaxCollateralRatio
	}
	if c.MaxPageLimit == 0 {
		c.MaxPageLimit = def.MaxPageLimit
	}
	return c
}

// Validate rejects parameter sets that would make the engine unsound.
func (c Config) Validate() error {
	if c.LiquidationBonusBps >= BasisPoints {
		return fmt.Errorf("liquidation bonus must be below %d bps", BasisPoints)
	}
	if c.MaxCollateralRatio < BasisPoints {
		return fmt.Errorf("max collateral ratio must be at least %d bps", BasisPoints)
	}
	if c.MaxOffersPerUser < 0 || c.MaxLoansPerUser < 0 {
		return fmt.Errorf("per-user caps must not be negative")
	}
	return nil
}

// LoadConfig reads a TOML parameter file. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read lending config: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode lending config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
