package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
)

// MultiKeywordResult holds the outcome of a multi-keyword search: the raw
// per-keyword id lists plus their set intersection and union. Combined sets
// are in ascending id order.
type MultiKeywordResult struct {
	PerKeyword   map[string][]uint64
	Intersection []uint64
	Union        []uint64
}

// MultiKeywordSearch looks up every keyword concurrently and combines the
// id sets. Duplicate keywords are collapsed (first occurrence wins); a
// keyword with no index yields an empty set, which makes the intersection
// empty.
func (c *Catalog) MultiKeywordSearch(ctx context.Context, keywords []string) (res MultiKeywordResult, err error) {
	defer func(start time.Time) {
		c.metrics.RecordSearch(len(res.Intersection), time.Since(start), err)
		c.logger.LogSearch(ctx, len(res.Intersection), err)
	}(time.Now())

	keywords = dedupeKeywords(keywords)
	if len(keywords) == 0 {
		return MultiKeywordResult{}, fmt.Errorf("%w: no keywords", ErrInvalidInput)
	}

	var mu sync.Mutex
	perKeyword := make(map[string][]uint64, len(keywords))

	g, ctx := errgroup.WithContext(ctx)
	for _, kw := range keywords {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, err := c.kw.Lookup(c.store, kw, 0, 0)
			if err != nil {
				return translateError(err)
			}
			mu.Lock()
			perKeyword[kw] = ids
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return MultiKeywordResult{}, err
	}

	var inter, union *roaring64.Bitmap
	for _, kw := range keywords {
		bm := roaring64.BitmapOf(perKeyword[kw]...)
		if inter == nil {
			inter = bm.Clone()
			union = bm
			continue
		}
		inter.And(bm)
		union.Or(bm)
	}

	return MultiKeywordResult{
		PerKeyword:   perKeyword,
		Intersection: inter.ToArray(),
		Union:        union.ToArray(),
	}, nil
}

type searchMode int

const (
	searchIntersect searchMode = iota
	searchUnion
)

// SearchBuilder accumulates search criteria and executes them as one
// combined query. Zero criteria is an error; criteria combine by
// intersection unless Union is selected, in which case the keyword sets
// union first and range criteria still intersect the result.
type SearchBuilder struct {
	catalog *Catalog
	mode    searchMode

	keywords []string

	priceSet   bool
	priceStart uint64
	priceEnd   uint64

	salesSet   bool
	salesStart uint64
	salesEnd   uint64

	tenantSet  bool
	tenantID   uint32
	activeOnly bool

	offset int
	limit  int
}

// Search starts a fluent query against the catalog.
func (c *Catalog) Search() *SearchBuilder {
	return &SearchBuilder{catalog: c}
}

// Keywords requires membership under every given keyword (or any of them
// after Union).
func (b *SearchBuilder) Keywords(keywords ...string) *SearchBuilder {
	b.keywords = append(b.keywords, keywords...)
	return b
}

// Union switches keyword combination from intersection to union.
func (b *SearchBuilder) Union() *SearchBuilder {
	b.mode = searchUnion
	return b
}

// PriceBetween requires the item price to fall in [start, end].
func (b *SearchBuilder) PriceBetween(start, end uint64) *SearchBuilder {
	b.priceSet, b.priceStart, b.priceEnd = true, start, end
	return b
}

// SalesBetween requires the item sales count to fall in [start, end].
func (b *SearchBuilder) SalesBetween(start, end uint64) *SearchBuilder {
	b.salesSet, b.salesStart, b.salesEnd = true, start, end
	return b
}

// Tenant restricts results to items owned by tenantID. Applied while
// loading item records, so it forces record loads like ExecuteItems.
func (b *SearchBuilder) Tenant(tenantID uint32) *SearchBuilder {
	b.tenantSet, b.tenantID = true, tenantID
	return b
}

// ActiveOnly drops deactivated items. Forces record loads like Tenant.
func (b *SearchBuilder) ActiveOnly() *SearchBuilder {
	b.activeOnly = true
	return b
}

// Offset skips the first n results.
func (b *SearchBuilder) Offset(n int) *SearchBuilder {
	b.offset = n
	return b
}

// Limit caps the number of results. Zero or negative means no limit.
func (b *SearchBuilder) Limit(n int) *SearchBuilder {
	b.limit = n
	return b
}

// Execute runs the query and returns matching ids in ascending order.
func (b *SearchBuilder) Execute(ctx context.Context) (ids []uint64, err error) {
	c := b.catalog
	defer func(start time.Time) {
		c.metrics.RecordSearch(len(ids), time.Since(start), err)
		c.logger.LogSearch(ctx, len(ids), err)
	}(time.Now())

	ids, err = b.execute(ctx)
	return ids, err
}

func (b *SearchBuilder) execute(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.keywords) == 0 && !b.priceSet && !b.salesSet {
		return nil, fmt.Errorf("%w: no search criteria", ErrInvalidInput)
	}
	c := b.catalog

	var result *roaring64.Bitmap
	combine := func(bm *roaring64.Bitmap) {
		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
	}

	if len(b.keywords) > 0 {
		mk, err := c.MultiKeywordSearch(ctx, b.keywords)
		if err != nil {
			return nil, err
		}
		if b.mode == searchUnion {
			combine(roaring64.BitmapOf(mk.Union...))
		} else {
			combine(roaring64.BitmapOf(mk.Intersection...))
		}
	}

	if b.priceSet {
		ids, err := c.price.RangeQuery(c.store, b.priceStart, b.priceEnd, 0, 0)
		if err != nil {
			return nil, translateError(err)
		}
		combine(roaring64.BitmapOf(ids...))
	}

	if b.salesSet {
		ids, err := c.sales.RangeQuery(c.store, b.salesStart, b.salesEnd, 0, 0)
		if err != nil {
			return nil, translateError(err)
		}
		combine(roaring64.BitmapOf(ids...))
	}

	if b.tenantSet || b.activeOnly {
		filtered := roaring64.New()
		it := result.Iterator()
		for it.HasNext() {
			id := it.Next()
			item, err := c.GetItem(ctx, id)
			if err != nil {
				return nil, err
			}
			if b.tenantSet && item.OwnerTenantID != b.tenantID {
				continue
			}
			if b.activeOnly && !item.Active {
				continue
			}
			filtered.Add(id)
		}
		result = filtered
	}

	return paginate(result.ToArray(), b.offset, b.limit), nil
}

// ExecuteItems runs the query and loads the matching item records.
func (b *SearchBuilder) ExecuteItems(ctx context.Context) ([]Item, error) {
	ids, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, err := b.catalog.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func paginate(ids []uint64, offset, limit int) []uint64 {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}
