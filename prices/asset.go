package prices

import (
	"errors"
	"fmt"
	"strings"
)

var EmptyAssetSpec = errors.New("asset spec has no assets")
var InvalidAsset = errors.New("asset must have a symbol and a provider id")
var DuplicateSymbol = errors.New("asset symbol configured more than once")

// Asset pairs the symbol shown to users with the quote provider's identifier
// for it, e.g. BTC and "bitcoin".
type Asset struct {
	Symbol string
	ID     string
}

func (a Asset) String() string {
	return a.Symbol + "=" + a.ID
}

// AssetSpec is the ordered set of assets a report is built for. Reports list
// the assets in this order.
type AssetSpec []Asset

// ParseAssetSpec builds an AssetSpec from "SYMBOL=provider-id" entries. Each
// entry may itself hold several comma separated pairs, so both
// []string{"BTC=bitcoin", "ETH=ethereum"} and []string{"BTC=bitcoin,ETH=ethereum"}
// are accepted.
func ParseAssetSpec(entries ...string) (AssetSpec, error) {
	var spec AssetSpec
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			symbol, id, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("%w: %q", InvalidAsset, pair)
			}
			spec = append(spec, Asset{
				Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
				ID:     strings.ToLower(strings.TrimSpace(id)),
			})
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s AssetSpec) Validate() error {
	if len(s) == 0 {
		return EmptyAssetSpec
	}
	seen := make(map[string]bool, len(s))
	for _, a := range s {
		if a.Symbol == "" || a.ID == "" {
			return fmt.Errorf("%w: %q", InvalidAsset, a.String())
		}
		key := strings.ToUpper(a.Symbol)
		if seen[key] {
			return fmt.Errorf("%w: %s", DuplicateSymbol, a.Symbol)
		}
		seen[key] = true
	}
	return nil
}

// IDs returns the distinct provider ids in configuration order.
func (s AssetSpec) IDs() []string {
	ids := make([]string, 0, len(s))
	seen := make(map[string]bool, len(s))
	for _, a := range s {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		ids = append(ids, a.ID)
	}
	return ids
}

func (s AssetSpec) Symbols() []string {
	symbols := make([]string, len(s))
	for i, a := range s {
		symbols[i] = a.Symbol
	}
	return symbols
}

// Lookup finds an asset by symbol, ignoring case.
func (s AssetSpec) Lookup(symbol string) (Asset, bool) {
	for _, a := range s {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return Asset{}, false
}

// Subset returns the assets named by symbols, in the order they were asked
// for, together with any symbols that are not part of s. Repeated
// symbols are only included once.
func (s AssetSpec) Subset(symbols ...string) (sub AssetSpec, unknown []string) {
	picked := map[string]bool{}
	for _, symbol := range symbols {
		a, ok := s.Lookup(symbol)
		if !ok {
			unknown = append(unknown, symbol)
			continue
		}
		if picked[a.Symbol] {
			continue
		}
		picked[a.Symbol] = true
		sub = append(sub, a)
	}
	return sub, unknown
}
