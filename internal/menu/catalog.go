package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/internal/receipt"
)

const (
	categoriesResource = "categories"
	itemsResource      = "menu-items"
	DefaultTTL         = 5 * time.Minute
)

type categoryDTO struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
}

type itemDTO struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
}

// Catalog caches the category tree and the menu item to category map the
// receipt grouper needs. A failed reload keeps serving the last good copy.
type Catalog struct {
	list   func(ctx context.Context, resource string) (interface{}, error)
	ttl    time.Duration
	logger apt.Logger
	now    func() time.Time

	mu       sync.Mutex
	grouper  *receipt.Grouper
	loadedAt time.Time
}

func NewCatalog(client *apt.ServiceClient, ttl time.Duration, logger apt.Logger) *Catalog {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		list: func(ctx context.Context, resource string) (interface{}, error) {
			if client == nil {
				return nil, errors.New("menu service not configured")
			}
			resp, err := client.List(ctx, resource)
			if err != nil {
				return nil, err
			}
			return resp.Data, nil
		},
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Grouper returns nil until the first successful load.
func (c *Catalog) Grouper(ctx context.Context) *receipt.Grouper {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.grouper != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return c.grouper
	}

	g, err := c.load(ctx)
	if err != nil {
		c.logger.Error("cannot load menu catalog", "error", err)
		return c.grouper
	}
	c.grouper = g
	c.loadedAt = c.now()
	return g
}

// Warm loads the catalog at startup. A failure is logged, not fatal.
func (c *Catalog) Warm(ctx context.Context) error {
	if c.Grouper(ctx) == nil {
		c.logger.Info("menu catalog unavailable, items print unsectioned until it loads")
	}
	return nil
}

func (c *Catalog) load(ctx context.Context) (*receipt.Grouper, error) {
	rawCategories, err := c.list(ctx, categoriesResource)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	var categories []categoryDTO
	if err := rehydrate(rawCategories, &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}

	rawItems, err := c.list(ctx, itemsResource)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	var items []itemDTO
	if err := rehydrate(rawItems, &items); err != nil {
		return nil, fmt.Errorf("failed to decode menu items: %w", err)
	}

	tree := make(receipt.CategoryTree, len(categories))
	sectionNames := make(map[string]string)
	for _, cat := range categories {
		if cat.ID == "" {
			continue
		}
		tree[cat.ID] = cat.ParentID
		if s, ok := receipt.SectionByKey(cat.ID); ok && cat.Name != "" {
			sectionNames[s.Key.String()] = cat.Name
		}
	}

	itemCategories := make(map[string]string, len(items))
	for _, it := range items {
		if it.ID != "" && it.CategoryID != "" {
			itemCategories[it.ID] = it.CategoryID
		}
	}

	c.logger.Debug("menu catalog loaded", "categories", len(tree), "items", len(itemCategories))
	return receipt.NewGrouper(tree, itemCategories, sectionNames, c.logger), nil
}

func rehydrate(data interface{}, out interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
