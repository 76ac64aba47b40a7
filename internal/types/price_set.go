package types

import (
	"fmt"
	"sort"
)

// PriceSet maps assets to a single USD price. It is read-only once built:
// NewPriceSet copies its input and rejects missing or non-positive entries
// for every required asset.
type PriceSet struct {
	prices map[Asset]float64
}

// MissingPriceError reports the assets that failed the PriceSet invariant
type MissingPriceError struct {
	Assets []Asset
}

// Error implements the error interface
func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("price not set for assets: %v", e.Assets)
}

// NewPriceSet builds a PriceSet, failing if any required asset is missing or <= 0
func NewPriceSet(prices map[Asset]float64, required []Asset) (*PriceSet, error) {
	var missing []Asset
	for _, asset := range required {
		if p, ok := prices[asset]; !ok || !(p > 0) {
			missing = append(missing, asset)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &MissingPriceError{Assets: missing}
	}

	copied := make(map[Asset]float64, len(prices))
	for k, v := range prices {
		copied[k] = v
	}
	return &PriceSet{prices: copied}, nil
}

// Price returns the USD price of an asset
func (s *PriceSet) Price(asset Asset) (float64, bool) {
	if s == nil {
		return 0, false
	}
	p, ok := s.prices[asset]
	return p, ok
}

// Assets returns the priced assets in sorted order
func (s *PriceSet) Assets() []Asset {
	assets := make([]Asset, 0, len(s.prices))
	for a := range s.prices {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}

// Len returns the number of priced assets
func (s *PriceSet) Len() int {
	return len(s.prices)
}
