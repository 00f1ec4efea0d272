package billing

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog is the immutable set of plans, indexed by plan, price and product id.
type Catalog struct {
	plans     []Plan
	byID      map[string]int
	byPrice   map[string]int
	byProduct map[string]int
	free      int
}

type catalogFile struct {
	Plans []Plan `yaml:"plans" validate:"required,min=1,dive"`
}

// NewCatalog validates plans and builds the lookup indexes.
// Exactly one plan must be marked free; ids, price ids and product ids must be unique.
func NewCatalog(plans []Plan) (*Catalog, error) {
	if err := validate.Struct(catalogFile{Plans: plans}); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	c := &Catalog{
		plans:     slices.Clone(plans),
		byID:      make(map[string]int, len(plans)),
		byPrice:   make(map[string]int),
		byProduct: make(map[string]int),
		free:      -1,
	}
	for i, p := range c.plans {
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidCatalog, p.ID)
		}
		c.byID[p.ID] = i

		if p.Free {
			if c.free >= 0 {
				return nil, fmt.Errorf("%w: more than one free plan", ErrInvalidCatalog)
			}
			if p.OneOff {
				return nil, fmt.Errorf("%w: free plan %q cannot be one-off", ErrInvalidCatalog, p.ID)
			}
			c.free = i
		}
		if p.GatewayProductID != "" {
			if _, dup := c.byProduct[p.GatewayProductID]; dup {
				return nil, fmt.Errorf("%w: duplicate product id %q", ErrInvalidCatalog, p.GatewayProductID)
			}
			c.byProduct[p.GatewayProductID] = i
		}
		for _, pr := range p.Prices {
			if _, dup := c.byPrice[pr.GatewayPriceID]; dup {
				return nil, fmt.Errorf("%w: duplicate price id %q", ErrInvalidCatalog, pr.GatewayPriceID)
			}
			c.byPrice[pr.GatewayPriceID] = i
		}
	}
	if c.free < 0 {
		return nil, fmt.Errorf("%w: no free plan", ErrInvalidCatalog)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return NewCatalog(f.Plans)
}

// LoadCatalog reads a YAML catalog from path. An empty path loads the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return ParseCatalog(data)
}

// LoadCatalogFS reads a YAML catalog from fsys.
func LoadCatalogFS(fsys fs.FS, name string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return ParseCatalog(data)
}

// Plans returns a copy of all plans in catalog order.
func (c *Catalog) Plans() []Plan { return slices.Clone(c.plans) }

// Free returns the fallback plan applied when paid entitlements lapse.
func (c *Catalog) Free() Plan { return c.plans[c.free] }

// Plan looks up a plan by id.
func (c *Catalog) Plan(id string) (Plan, error) {
	if i, ok := c.byID[id]; ok {
		return c.plans[i], nil
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
}

// ByPrice looks up the plan owning a gateway price id.
func (c *Catalog) ByPrice(priceID string) (Plan, error) {
	if i, ok := c.byPrice[priceID]; ok {
		return c.plans[i], nil
	}
	return Plan{}, fmt.Errorf("%w: price %q", ErrPlanNotFound, priceID)
}

// ByProduct looks up the plan mirrored by a gateway product id.
func (c *Catalog) ByProduct(productID string) (Plan, error) {
	if i, ok := c.byProduct[productID]; ok {
		return c.plans[i], nil
	}
	return Plan{}, fmt.Errorf("%w: product %q", ErrPlanNotFound, productID)
}

// Resolve finds the plan for a subscription snapshot: by price, then by product.
func (c *Catalog) Resolve(priceID, productID string) (Plan, error) {
	if priceID != "" {
		if p, err := c.ByPrice(priceID); err == nil {
			return p, nil
		}
	}
	if productID != "" {
		return c.ByProduct(productID)
	}
	return Plan{}, fmt.Errorf("%w: price %q", ErrPlanNotFound, priceID)
}

// Drift describes a catalog price that disagrees with the gateway.
type Drift struct {
	PlanID  string
	PriceID string
	Reason  string
}

func (d Drift) String() string {
	return d.PlanID + "/" + d.PriceID + ": " + d.Reason
}

// PriceLister lists the gateway's mirrored price records.
type PriceLister interface {
	ListPrices(ctx context.Context) ([]GatewayPrice, error)
}

// VerifyCatalog compares catalog prices against the gateway and reports drift.
// A nil slice means the catalog and the gateway agree.
func (c *Catalog) VerifyCatalog(ctx context.Context, lister PriceLister) ([]Drift, error) {
	remote, err := lister.ListPrices(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]GatewayPrice, len(remote))
	for _, gp := range remote {
		byID[gp.ID] = gp
	}

	var drift []Drift
	for _, p := range c.plans {
		for _, pr := range p.Prices {
			gp, ok := byID[pr.GatewayPriceID]
			switch {
			case !ok:
				drift = append(drift, Drift{p.ID, pr.GatewayPriceID, "missing at gateway"})
				continue
			case !gp.Active:
				drift = append(drift, Drift{p.ID, pr.GatewayPriceID, "inactive at gateway"})
			}
			if gp.Amount != pr.Amount {
				drift = append(drift, Drift{p.ID, pr.GatewayPriceID,
					fmt.Sprintf("amount %d, gateway has %d", pr.Amount, gp.Amount)})
			}
			if !strings.EqualFold(gp.Currency, pr.Currency) {
				drift = append(drift, Drift{p.ID, pr.GatewayPriceID,
					fmt.Sprintf("currency %s, gateway has %s", pr.Currency, gp.Currency)})
			}
			if gp.ProductID != "" && gp.ProductID != p.GatewayProductID {
				drift = append(drift, Drift{p.ID, pr.GatewayPriceID,
					fmt.Sprintf("product %s, gateway has %s", p.GatewayProductID, gp.ProductID)})
			}
		}
	}
	return drift, nil
}
