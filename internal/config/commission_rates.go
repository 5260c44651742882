package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var maxRate = decimal.NewFromInt(100)

// CommissionRates resolves commission percentages. A seller override wins over
// a category override, which wins over the default rate.
type CommissionRates struct {
	Default    decimal.Decimal
	Sellers    map[uuid.UUID]decimal.Decimal
	Categories map[uuid.UUID]decimal.Decimal
}

type commissionRatesFile struct {
	DefaultRate *float64           `yaml:"default_rate"`
	Sellers     map[string]float64 `yaml:"sellers"`
	Categories  map[string]float64 `yaml:"categories"`
}

// NewCommissionRates creates a resolver with only a default rate
func NewCommissionRates(defaultRate decimal.Decimal) *CommissionRates {
	return &CommissionRates{
		Default:    defaultRate,
		Sellers:    make(map[uuid.UUID]decimal.Decimal),
		Categories: make(map[uuid.UUID]decimal.Decimal),
	}
}

// LoadCommissionRates reads overrides from a YAML file. An empty path yields
// the default rate only. A default_rate in the file replaces defaultRate.
func LoadCommissionRates(path string, defaultRate decimal.Decimal) (*CommissionRates, error) {
	rates := NewCommissionRates(defaultRate)
	if path == "" {
		return rates, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commission rates: %w", err)
	}
	return ParseCommissionRates(raw, defaultRate)
}

// ParseCommissionRates parses the YAML override document
func ParseCommissionRates(raw []byte, defaultRate decimal.Decimal) (*CommissionRates, error) {
	var file commissionRatesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse commission rates: %w", err)
	}

	rates := NewCommissionRates(defaultRate)
	if file.DefaultRate != nil {
		rates.Default = decimal.NewFromFloat(*file.DefaultRate)
	}
	if err := validateRate(rates.Default); err != nil {
		return nil, fmt.Errorf("default_rate %w", err)
	}

	if err := parseOverrides(file.Sellers, rates.Sellers, "sellers"); err != nil {
		return nil, err
	}
	if err := parseOverrides(file.Categories, rates.Categories, "categories"); err != nil {
		return nil, err
	}
	return rates, nil
}

func parseOverrides(in map[string]float64, out map[uuid.UUID]decimal.Decimal, section string) error {
	for key, value := range in {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("%s: invalid id %q: %w", section, key, err)
		}
		rate := decimal.NewFromFloat(value)
		if err := validateRate(rate); err != nil {
			return fmt.Errorf("%s[%s] %w", section, key, err)
		}
		out[id] = rate
	}
	return nil
}

// Resolve implements domain.CommissionRateResolver
func (r *CommissionRates) Resolve(sellerID uuid.UUID, categoryID *uuid.UUID) decimal.Decimal {
	if rate, ok := r.Sellers[sellerID]; ok {
		return rate
	}
	if categoryID != nil {
		if rate, ok := r.Categories[*categoryID]; ok {
			return rate
		}
	}
	return r.Default
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}
