package catalog

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/settings"
)

// Product is a purchasable bundle of cards.
type Product struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	CardCount   int    `json:"cardCount"`
	AmountCents int64  `json:"amountCents,omitempty"` // Fixed price; zero accepts the client amount.
	Currency    string `json:"currency,omitempty"`
}

// defaultProducts is the built-in catalog.
var defaultProducts = []Product{
	{Code: "WP001", Name: "Watchlist Pro - 1 card", CardCount: 1},
	{Code: "WP002", Name: "Watchlist Pro - 5 cards", CardCount: 5},
	{Code: "WP003", Name: "Watchlist Pro - 10 cards", CardCount: 10},
}

// Products returns the active catalog: the built-in products merged with the PRODUCT_CATALOG setting.
func Products() []Product {
	out := make([]Product, 0, len(defaultProducts))
	index := make(map[string]int, len(defaultProducts))
	for _, p := range defaultProducts {
		index[p.Code] = len(out)
		out = append(out, p)
	}
	for _, p := range overrides() {
		if i, ok := index[p.Code]; ok {
			out[i] = p
			continue
		}
		index[p.Code] = len(out)
		out = append(out, p)
	}
	return out
}

// Lookup finds a product by code.
func Lookup(code string) (Product, bool) {
	code = normalizeCode(code)
	if code == "" {
		return Product{}, false
	}
	for _, p := range Products() {
		if p.Code == code {
			return p, true
		}
	}
	return Product{}, false
}

// CardCount maps a product code to the number of cards it grants. Unknown codes grant one card.
func CardCount(code string) int {
	if p, ok := Lookup(code); ok {
		return p.CardCount
	}
	return 1
}

func overrides() []Product {
	raw, ok := settings.Value(settings.ProductCatalogKey)
	if !ok || len(raw) == 0 {
		return nil
	}
	var parsed []Product
	if err := json.Unmarshal(raw, &parsed); err != nil {
		log.WithError(err).Warn("catalog: ignoring malformed PRODUCT_CATALOG setting")
		return nil
	}
	out := parsed[:0]
	for _, p := range parsed {
		p.Code = normalizeCode(p.Code)
		if p.Code == "" || p.CardCount <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
