// Package asset handles cryptocurrency identifier parsing, validation and
// the catalog of assets the platform trades.
package asset

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

// idRegex matches a ticker-style asset id: an upper-case letter followed by
// 1-9 upper-case letters or digits. Examples: BTC, MIOTA, XEM.
var idRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

var (
	ErrInvalidID    = errors.New("asset: invalid asset id")
	ErrUnknownAsset = errors.New("asset: unknown asset")
)

// Asset is a tradable cryptocurrency.
type Asset struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// ParseID normalizes and validates an asset id. Surrounding whitespace is
// dropped and the id is upper-cased, so "btc" parses as "BTC".
func ParseID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q (expected 2-10 upper-case letters or digits)", ErrInvalidID, raw)
	}
	return id, nil
}

// Catalog is an immutable set of assets keyed by id.
type Catalog struct {
	assets map[string]Asset
	order  []string
}

// NewCatalog builds a catalog, rejecting invalid or duplicate ids.
func NewCatalog(assets ...Asset) (*Catalog, error) {
	c := &Catalog{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		id, err := ParseID(a.ID)
		if err != nil {
			return nil, err
		}
		if _, dup := c.assets[id]; dup {
			return nil, fmt.Errorf("asset: duplicate id %s", id)
		}
		a.ID = id
		if a.Name == "" {
			a.Name = id
		}
		c.assets[id] = a
		c.order = append(c.order, id)
	}
	slices.SortFunc(c.order, func(a, b string) int { return cmp.Compare(a, b) })
	return c, nil
}

// DefaultCatalog returns the ten cryptocurrencies BitChest lists.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Asset{ID: "BTC", Name: "Bitcoin"},
		Asset{ID: "ETH", Name: "Ethereum"},
		Asset{ID: "XRP", Name: "Ripple"},
		Asset{ID: "BCH", Name: "Bitcoin Cash"},
		Asset{ID: "ADA", Name: "Cardano"},
		Asset{ID: "LTC", Name: "Litecoin"},
		Asset{ID: "XEM", Name: "NEM"},
		Asset{ID: "XLM", Name: "Stellar"},
		Asset{ID: "MIOTA", Name: "IOTA"},
		Asset{ID: "DASH", Name: "Dash"},
	)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadCatalog reads a YAML catalog of the form
//
//	assets:
//	  - id: BTC
//	    name: Bitcoin
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse asset catalog %s: %w", path, err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("asset catalog %s lists no assets", path)
	}
	return NewCatalog(f.Assets...)
}

// Lookup parses id and returns the matching asset.
func (c *Catalog) Lookup(id string) (Asset, error) {
	parsed, err := ParseID(id)
	if err != nil {
		return Asset{}, err
	}
	a, ok := c.assets[parsed]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, parsed)
	}
	return a, nil
}

// All returns every asset ordered by id.
func (c *Catalog) All() []Asset {
	out := make([]Asset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.assets[id])
	}
	return out
}

// IDs returns every asset id in order.
func (c *Catalog) IDs() []string {
	return slices.Clone(c.order)
}
