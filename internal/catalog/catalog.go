// Package catalog loads loot box offerings from a YAML file.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"LootLedger/internal/core"
	"LootLedger/internal/failure"
	"LootLedger/internal/fairness"
	"LootLedger/internal/money"
)

type fileFormat struct {
	Offerings []offeringYAML `yaml:"offerings"`
}

type offeringYAML struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	EntryPrice     string        `yaml:"entry_price"`
	Currency       string        `yaml:"currency"`
	BuybackPercent string        `yaml:"buyback_percent"`
	Pool           []core.Reward `yaml:"pool"`
}

// Catalog is an immutable set of offerings. It implements core.Catalog.
type Catalog struct {
	offerings map[string]core.Offering
}

// Load reads and validates a catalog file.
func Load(path string, defaultBuybackPct decimal.Decimal) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data, defaultBuybackPct)
}

// Parse validates every offering: positive finite entry price, known
// currency, buyback percent in [0, 100] and a selectable pool.
func Parse(data []byte, defaultBuybackPct decimal.Decimal) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, failure.Wrap(failure.InputMalformed, err, "parse catalog")
	}
	if len(f.Offerings) == 0 {
		return nil, failure.New(failure.InputMalformed, "catalog has no offerings")
	}

	c := &Catalog{offerings: make(map[string]core.Offering, len(f.Offerings))}
	for i, raw := range f.Offerings {
		o, err := raw.toOffering(defaultBuybackPct)
		if err != nil {
			return nil, fmt.Errorf("offering %d (%s): %w", i, raw.ID, err)
		}
		if _, dup := c.offerings[o.ID]; dup {
			return nil, failure.New(failure.InputMalformed, "duplicate offering id %s", o.ID)
		}
		c.offerings[o.ID] = o
	}
	return c, nil
}

func (y offeringYAML) toOffering(defaultPct decimal.Decimal) (core.Offering, error) {
	if y.ID == "" {
		return core.Offering{}, failure.New(failure.InputMalformed, "offering id is empty")
	}
	unit, err := money.UnitFor(y.Currency)
	if err != nil {
		return core.Offering{}, err
	}
	price, err := money.ValidateAmount(y.EntryPrice)
	if err != nil {
		return core.Offering{}, err
	}
	if !price.IsPositive() {
		return core.Offering{}, failure.New(failure.InputMalformed, "entry price must be positive")
	}

	pct := defaultPct
	if y.BuybackPercent != "" {
		if pct, err = money.ValidateAmount(y.BuybackPercent); err != nil {
			return core.Offering{}, err
		}
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return core.Offering{}, failure.New(failure.InputMalformed, "buyback percent %s outside [0, 100]", pct)
	}

	seen := make(map[string]bool, len(y.Pool))
	for _, r := range y.Pool {
		if r.ID == "" || r.AssetID == "" {
			return core.Offering{}, failure.New(failure.InputMalformed, "reward needs id and asset_id")
		}
		if seen[r.ID] {
			return core.Offering{}, failure.New(failure.InputMalformed, "duplicate reward id %s", r.ID)
		}
		seen[r.ID] = true
	}

	o := core.Offering{
		ID:             y.ID,
		Name:           y.Name,
		EntryPrice:     price,
		Currency:       unit.Symbol,
		BuybackPercent: pct,
		Pool:           y.Pool,
	}
	if _, err := fairness.TotalWeight(o.Entries()); err != nil {
		return core.Offering{}, err
	}
	return o, nil
}

// Offering returns an offering by id.
func (c *Catalog) Offering(_ context.Context, id string) (core.Offering, error) {
	o, ok := c.offerings[id]
	if !ok {
		return core.Offering{}, failure.New(failure.NotFound, "offering %s not found", id)
	}
	return o, nil
}

// Offerings lists all offerings sorted by id.
func (c *Catalog) Offerings() []core.Offering {
	out := make([]core.Offering, 0, len(c.offerings))
	for _, o := range c.offerings {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
