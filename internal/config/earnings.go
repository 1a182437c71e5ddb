package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	// ErrSettingNotFound is returned by a source that holds no earnings settings
	ErrSettingNotFound = errors.New("setting not found")

	// ErrConfigUnavailable is returned when settings cannot be loaded and nothing is cached
	ErrConfigUnavailable = errors.New("earnings configuration unavailable")
)

// MaxCommissionLevels is the depth of the referral walk.
const MaxCommissionLevels = 4

// PackageTier holds the terms of one package type.
type PackageTier struct {
	MinAmount    decimal.Decimal `json:"min_amount"`
	DurationDays int             `json:"duration_days"`
	ProfitRate   decimal.Decimal `json:"profit_rate"`
}

// MaxEarnings is the closed-form total return for principal, excluding the principal itself.
func (t PackageTier) MaxEarnings(principal decimal.Decimal) decimal.Decimal {
	return principal.Mul(t.ProfitRate).Round(2)
}

// DailyRate is the per-day accrual for principal.
func (t PackageTier) DailyRate(principal decimal.Decimal) decimal.Decimal {
	if t.DurationDays <= 0 {
		return decimal.Zero
	}
	return principal.Mul(t.ProfitRate).Div(decimal.NewFromInt(int64(t.DurationDays))).Round(4)
}

// Duration is the package term.
func (t PackageTier) Duration() time.Duration {
	return time.Duration(t.DurationDays) * 24 * time.Hour
}

// EarningsConfig is the runtime configuration of the earnings core.
type EarningsConfig struct {
	ClickRewardPerClick decimal.Decimal     `json:"click_reward_per_click"`
	DailyClickCap       decimal.Decimal     `json:"daily_click_cap"`
	ActivationFee       decimal.Decimal     `json:"activation_fee"`
	ActivationBonus     decimal.Decimal     `json:"activation_bonus"`
	CommissionRates     []decimal.Decimal   `json:"commission_rates"` // index 0 is level 1
	PackageTiers        map[int]PackageTier `json:"package_tiers"`
	Timezone            string              `json:"timezone"`

	location *time.Location
}

// DefaultEarningsConfig returns the built-in settings.
func DefaultEarningsConfig() *EarningsConfig {
	return &EarningsConfig{
		ClickRewardPerClick: decimal.RequireFromString("0.20"),
		DailyClickCap:       decimal.RequireFromString("10.00"),
		ActivationFee:       decimal.NewFromInt(100),
		ActivationBonus:     decimal.NewFromInt(10),
		CommissionRates: []decimal.Decimal{
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.02"),
			decimal.RequireFromString("0.02"),
			decimal.RequireFromString("0.01"),
		},
		PackageTiers: map[int]PackageTier{
			1: {MinAmount: decimal.NewFromInt(100), DurationDays: 12, ProfitRate: decimal.RequireFromString("0.20")},
			2: {MinAmount: decimal.NewFromInt(500), DurationDays: 20, ProfitRate: decimal.RequireFromString("0.50")},
			3: {MinAmount: decimal.NewFromInt(1000), DurationDays: 30, ProfitRate: decimal.RequireFromString("2.00")},
		},
		Timezone: "UTC",
	}
}

// SetEarningsDefaults registers the built-in settings with viper.
func SetEarningsDefaults() {
	d := DefaultEarningsConfig()
	viper.SetDefault("earnings.click_reward_per_click", d.ClickRewardPerClick.String())
	viper.SetDefault("earnings.daily_click_cap", d.DailyClickCap.String())
	viper.SetDefault("earnings.activation_fee", d.ActivationFee.String())
	viper.SetDefault("earnings.activation_bonus", d.ActivationBonus.String())
	viper.SetDefault("earnings.timezone", d.Timezone)
	viper.SetDefault("earnings.cache_ttl", 60*time.Second)
	for i, rate := range d.CommissionRates {
		viper.SetDefault(fmt.Sprintf("earnings.commission.level%d", i+1), rate.String())
	}
	for t, tier := range d.PackageTiers {
		viper.SetDefault(fmt.Sprintf("earnings.tier%d.min_amount", t), tier.MinAmount.String())
		viper.SetDefault(fmt.Sprintf("earnings.tier%d.duration_days", t), tier.DurationDays)
		viper.SetDefault(fmt.Sprintf("earnings.tier%d.profit_rate", t), tier.ProfitRate.String())
	}
}

// LoadEarningsDefaults reads the earnings section from viper.
func LoadEarningsDefaults() (*EarningsConfig, error) {
	SetEarningsDefaults()

	cfg := &EarningsConfig{
		CommissionRates: make([]decimal.Decimal, 0, MaxCommissionLevels),
		PackageTiers:    make(map[int]PackageTier),
		Timezone:        viper.GetString("earnings.timezone"),
	}

	var err error
	if cfg.ClickRewardPerClick, err = viperDecimal("earnings.click_reward_per_click"); err != nil {
		return nil, err
	}
	if cfg.DailyClickCap, err = viperDecimal("earnings.daily_click_cap"); err != nil {
		return nil, err
	}
	if cfg.ActivationFee, err = viperDecimal("earnings.activation_fee"); err != nil {
		return nil, err
	}
	if cfg.ActivationBonus, err = viperDecimal("earnings.activation_bonus"); err != nil {
		return nil, err
	}
	for level := 1; level <= MaxCommissionLevels; level++ {
		rate, err := viperDecimal(fmt.Sprintf("earnings.commission.level%d", level))
		if err != nil {
			return nil, err
		}
		cfg.CommissionRates = append(cfg.CommissionRates, rate)
	}
	for t := 1; t <= 3; t++ {
		minAmount, err := viperDecimal(fmt.Sprintf("earnings.tier%d.min_amount", t))
		if err != nil {
			return nil, err
		}
		rate, err := viperDecimal(fmt.Sprintf("earnings.tier%d.profit_rate", t))
		if err != nil {
			return nil, err
		}
		cfg.PackageTiers[t] = PackageTier{
			MinAmount:    minAmount,
			DurationDays: viper.GetInt(fmt.Sprintf("earnings.tier%d.duration_days", t)),
			ProfitRate:   rate,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func viperDecimal(key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(viper.GetString(key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %w", key, err)
	}
	return d, nil
}

// Validate checks the settings and resolves the timezone.
func (c *EarningsConfig) Validate() error {
	if !c.ClickRewardPerClick.IsPositive() {
		return fmt.Errorf("click reward must be positive")
	}
	if c.DailyClickCap.LessThan(c.ClickRewardPerClick) {
		return fmt.Errorf("daily click cap must be at least one click reward")
	}
	if c.ActivationFee.IsNegative() || c.ActivationBonus.IsNegative() {
		return fmt.Errorf("activation fee and bonus must not be negative")
	}
	if len(c.CommissionRates) == 0 || len(c.CommissionRates) > MaxCommissionLevels {
		return fmt.Errorf("commission rates must cover 1 to %d levels", MaxCommissionLevels)
	}
	for i, rate := range c.CommissionRates {
		if rate.IsNegative() {
			return fmt.Errorf("commission rate for level %d is negative", i+1)
		}
	}
	if len(c.PackageTiers) == 0 {
		return fmt.Errorf("no package tiers configured")
	}
	for t, tier := range c.PackageTiers {
		if tier.DurationDays <= 0 || !tier.ProfitRate.IsPositive() || !tier.MinAmount.IsPositive() {
			return fmt.Errorf("package tier %d is invalid", t)
		}
	}

	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	c.location = loc
	return nil
}

// Tier returns the terms of a package type.
func (c *EarningsConfig) Tier(packageType int) (PackageTier, bool) {
	tier, ok := c.PackageTiers[packageType]
	return tier, ok
}

// CommissionRate returns the rate for a 1-based referral level.
func (c *EarningsConfig) CommissionRate(level int) (decimal.Decimal, bool) {
	if level < 1 || level > len(c.CommissionRates) {
		return decimal.Zero, false
	}
	return c.CommissionRates[level-1], true
}

// Location is the reference time zone for calendar-day comparisons.
func (c *EarningsConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
