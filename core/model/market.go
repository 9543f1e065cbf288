package model

// Product identifies a wholesale market product a pool can bid into.
type Product int

const (
	ProductEnergy Product = iota
	ProductCapacity
	ProductFrequencyRegulation
	ProductSpinningReserve
	ProductDemandResponse
)

// String returns the wire representation of the product.
func (p Product) String() string {
	switch p {
	case ProductEnergy:
		return "energy"
	case ProductCapacity:
		return "capacity"
	case ProductFrequencyRegulation:
		return "frequency-regulation"
	case ProductSpinningReserve:
		return "spinning-reserve"
	case ProductDemandResponse:
		return "demand-response"
	default:
		return "unknown"
	}
}

// ParseProduct converts a wire string into a Product.
func ParseProduct(s string) (Product, bool) {
	switch s {
	case "energy":
		return ProductEnergy, true
	case "capacity":
		return ProductCapacity, true
	case "frequency-regulation":
		return ProductFrequencyRegulation, true
	case "spinning-reserve":
		return ProductSpinningReserve, true
	case "demand-response":
		return ProductDemandResponse, true
	default:
		return 0, false
	}
}

// Market describes a wholesale market a pool participates in.
type Market struct {
	ID               string
	Name             string
	Region           string
	Currency         string
	MinBidCapacityMW float64
	Products         []Product
}

// Offers reports whether the market trades the given product.
func (m Market) Offers(p Product) bool {
	for _, mp := range m.Products {
		if mp == p {
			return true
		}
	}
	return false
}
