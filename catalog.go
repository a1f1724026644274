package catalog

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/FOCX-Labs/shop-sub001/idalloc"
	"github.com/FOCX-Labs/shop-sub001/keyword"
	"github.com/FOCX-Labs/shop-sub001/ledger"
	"github.com/FOCX-Labs/shop-sub001/rangeidx"
)

// Index instance names for the two range-partitioned secondary indexes.
const (
	PriceIndexName = "price"
	SalesIndexName = "sales"
)

// Catalog is the coordinator of the marketplace catalog engine. It owns the
// identifier allocator, the keyword index and the two range indexes, and
// builds every operation as exactly one atomic ledger commit: either all
// records of an operation are applied or none are.
//
// Structural capacity failures (full chunk, shard or range node) are
// returned as retryable errors (see IsRetryable); the caller performs the
// prerequisite structural operation and resubmits. The Catalog never grows
// structures implicitly on a write path that also mutates user data.
type Catalog struct {
	store   ledger.Ledger // cache-wrapped when CacheTTL > 0
	backing ledger.Ledger

	cfg   Config
	alloc *idalloc.Allocator
	kw    *keyword.Index
	price *rangeidx.Index
	sales *rangeidx.Index

	logger    *Logger
	metrics   MetricsCollector
	snapStore ledger.SnapshotStore
	snapName  string
}

// ItemSpec describes a new item.
type ItemSpec struct {
	Name        string
	Description string
	Price       uint64
	Keywords    []string
}

// ItemUpdate describes an item mutation. Nil fields are left unchanged; a
// non-nil Keywords replaces the full keyword list.
type ItemUpdate struct {
	Name        *string
	Description *string
	Price       *uint64
	Keywords    []string
}

// Stats is a point-in-time summary of engine state.
type Stats struct {
	Tenants     uint32
	Records     int
	PriceRanges []rangeidx.Range
	SalesRanges []rangeidx.Range
}

// New opens a catalog over the given ledger. On a fresh ledger the GlobalRoot
// record is created from cfg; on an existing one the stored configuration is
// adopted (RangeNodeCapacity is process-local and always taken from cfg).
func New(led ledger.Ledger, cfg Config, optFns ...Option) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)

	tx := led.Begin()
	root, created, err := idalloc.EnsureGlobalRoot(tx, idalloc.GlobalRoot{
		ChunkSize:          cfg.ChunkSize,
		MaxKeywordsPerItem: cfg.MaxKeywordsPerItem,
		MaxMembersPerShard: cfg.MaxMembersPerShard,
		FilterBits:         cfg.FilterBits,
		CacheTTL:           cfg.CacheTTL,
	})
	if err != nil {
		return nil, translateError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}

	effective := Config{
		ChunkSize:          root.ChunkSize,
		MaxKeywordsPerItem: root.MaxKeywordsPerItem,
		MaxMembersPerShard: root.MaxMembersPerShard,
		FilterBits:         root.FilterBits,
		CacheTTL:           root.CacheTTL,
		RangeNodeCapacity:  cfg.RangeNodeCapacity,
	}

	store := led
	if effective.CacheTTL > 0 {
		store = ledger.NewCachedLedger(led, time.Duration(effective.CacheTTL)*time.Second)
	}

	c := &Catalog{
		store:     store,
		backing:   led,
		cfg:       effective,
		alloc:     idalloc.New(effective.ChunkSize),
		kw:        keyword.New(effective.MaxMembersPerShard, effective.FilterBits),
		price:     rangeidx.New(PriceIndexName, effective.RangeNodeCapacity),
		sales:     rangeidx.New(SalesIndexName, effective.RangeNodeCapacity),
		logger:    o.logger,
		metrics:   o.metrics,
		snapStore: o.snapStore,
		snapName:  o.snapName,
	}
	if created {
		c.logger.Info("catalog bootstrapped",
			"chunk_size", effective.ChunkSize,
			"max_members_per_shard", effective.MaxMembersPerShard,
			"filter_bits", effective.FilterBits)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Catalog) Config() Config { return c.cfg }

// RegisterTenant assigns the next dense tenant id to owner and creates the
// tenant's first id chunk. Fails with ErrAlreadyExists on re-registration.
func (c *Catalog) RegisterTenant(ctx context.Context, owner string) (tenantID uint32, err error) {
	defer func(start time.Time) {
		c.metrics.RecordStructural(time.Since(start), err)
		c.logger.LogRegisterTenant(ctx, owner, tenantID, err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	tx := c.store.Begin()
	tenantID, err = c.alloc.RegisterTenant(tx, owner)
	if err != nil {
		err = translateError(err)
		return 0, err
	}
	if err = translateError(tx.Commit()); err != nil {
		return 0, err
	}
	return tenantID, nil
}

// EnsureChunkCapacity allocates the owner's next id chunk. Call it after
// CreateItem fails with a chunk-exhausted capacity error, then resubmit.
func (c *Catalog) EnsureChunkCapacity(ctx context.Context, owner string) (chunkIndex uint32, err error) {
	defer func(start time.Time) {
		c.metrics.RecordStructural(time.Since(start), err)
		c.logger.LogStructural(ctx, "chunk", err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	tx := c.store.Begin()
	chunkIndex, err = c.alloc.AllocateNewChunk(tx, owner)
	if err != nil {
		err = translateError(err)
		return 0, err
	}
	if err = translateError(tx.Commit()); err != nil {
		return 0, err
	}
	return chunkIndex, nil
}

// InitializeKeyword creates the root record and first shard for a keyword.
// Fails with ErrAlreadyExists if the keyword is already known. CreateItem
// initializes missing keywords itself; this is for callers that want the
// structure in place up front.
func (c *Catalog) InitializeKeyword(ctx context.Context, kw string) (err error) {
	defer func(start time.Time) {
		c.metrics.RecordStructural(time.Since(start), err)
		c.logger.LogStructural(ctx, "keyword", err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}
	if kw == "" {
		return fmt.Errorf("%w: empty keyword", ErrInvalidInput)
	}

	tx := c.store.Begin()
	if err = c.kw.Initialize(tx, kw); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// EnsureKeywordCapacity appends the next shard to a keyword's chain. Call it
// after an insert fails with a shard-full capacity error, then resubmit.
func (c *Catalog) EnsureKeywordCapacity(ctx context.Context, kw string) (shardIndex uint32, err error) {
	defer func(start time.Time) {
		c.metrics.RecordStructural(time.Since(start), err)
		c.logger.LogStructural(ctx, "shard", err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	tx := c.store.Begin()
	shardIndex, err = c.kw.AppendShard(tx, kw)
	if err != nil {
		err = translateError(err)
		return 0, err
	}
	if err = translateError(tx.Commit()); err != nil {
		return 0, err
	}
	return shardIndex, nil
}

// InitializePriceRange creates an empty price index node covering
// [start, end]. Fails with ErrOverlap if it intersects an active range.
func (c *Catalog) InitializePriceRange(ctx context.Context, start, end uint64) error {
	return c.initializeRange(ctx, c.price, start, end)
}

// InitializeSalesRange creates an empty sales index node covering
// [start, end].
func (c *Catalog) InitializeSalesRange(ctx context.Context, start, end uint64) error {
	return c.initializeRange(ctx, c.sales, start, end)
}

func (c *Catalog) initializeRange(ctx context.Context, ix *rangeidx.Index, start, end uint64) (err error) {
	defer func(t time.Time) {
		c.metrics.RecordStructural(time.Since(t), err)
		c.logger.LogStructural(ctx, ix.Name()+" range", err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}
	if end < start {
		return fmt.Errorf("%w: range end %d before start %d", ErrInvalidInput, end, start)
	}

	tx := c.store.Begin()
	if err = ix.Initialize(tx, start, end); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// SplitPriceRange splits the price node covering exactly [start, end] into
// two half-width nodes. Call it after an insert fails with a node-full
// capacity error, then resubmit.
func (c *Catalog) SplitPriceRange(ctx context.Context, start, end uint64) error {
	return c.splitRange(ctx, c.price, start, end)
}

// SplitSalesRange splits the sales node covering exactly [start, end].
func (c *Catalog) SplitSalesRange(ctx context.Context, start, end uint64) error {
	return c.splitRange(ctx, c.sales, start, end)
}

func (c *Catalog) splitRange(ctx context.Context, ix *rangeidx.Index, start, end uint64) (err error) {
	defer func(t time.Time) {
		c.metrics.RecordStructural(time.Since(t), err)
		c.logger.LogStructural(ctx, ix.Name()+" split", err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}

	tx := c.store.Begin()
	if err = ix.Split(tx, start, end); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// CreateItem allocates a global id, writes the item record and inserts the
// id into the keyword, price and sales indexes as one atomic commit. On any
// failure no partial state is observable: no id is consumed, no index entry
// is written, no item record exists.
//
// Missing keyword roots are initialized inside the same commit; full shards,
// chunks and range nodes are NOT grown here; those failures come back as
// retryable capacity errors for the caller to resolve.
func (c *Catalog) CreateItem(ctx context.Context, owner string, spec ItemSpec) (id uint64, err error) {
	defer func(start time.Time) {
		c.metrics.RecordCreateItem(time.Since(start), err)
		c.logger.LogCreateItem(ctx, id, len(spec.Keywords), err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return 0, err
	}

	if spec.Name == "" {
		return 0, fmt.Errorf("%w: empty item name", ErrInvalidInput)
	}
	keywords := dedupeKeywords(spec.Keywords)
	for _, kw := range keywords {
		if kw == "" {
			return 0, fmt.Errorf("%w: empty keyword", ErrInvalidInput)
		}
	}
	if len(keywords) > int(c.cfg.MaxKeywordsPerItem) {
		return 0, fmt.Errorf("%w: %d keywords exceeds limit %d",
			ErrInvalidInput, len(keywords), c.cfg.MaxKeywordsPerItem)
	}

	tx := c.store.Begin()

	id, err = c.alloc.AllocateID(tx, owner)
	if err != nil {
		err = translateError(err)
		return 0, err
	}
	tenantID, _ := idalloc.SplitGlobalID(id)

	item := Item{
		ID:            id,
		OwnerTenantID: tenantID,
		Price:         spec.Price,
		SalesCount:    0,
		Active:        true,
		Name:          spec.Name,
		Description:   spec.Description,
		Keywords:      keywords,
	}
	itemData, err := item.MarshalBinary()
	if err != nil {
		return 0, err
	}
	if err = tx.Create(ItemAddress(id), itemData); err != nil {
		err = translateError(err)
		return 0, err
	}

	for _, kw := range keywords {
		if err = c.kw.EnsureInitialized(tx, kw); err != nil {
			err = translateError(err)
			return 0, err
		}
		if err = c.kw.Insert(tx, kw, id); err != nil {
			err = translateError(err)
			return 0, err
		}
	}

	if err = c.price.Insert(tx, id, spec.Price); err != nil {
		err = translateError(err)
		return 0, err
	}
	if err = c.sales.Insert(tx, id, 0); err != nil {
		err = translateError(err)
		return 0, err
	}

	if err = translateError(tx.Commit()); err != nil {
		return 0, err
	}
	return id, nil
}

// GetItem loads an item record.
func (c *Catalog) GetItem(ctx context.Context, id uint64) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	data, ok := c.store.Get(ItemAddress(id))
	if !ok {
		return Item{}, fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	var item Item
	if err := item.UnmarshalBinary(data); err != nil {
		return Item{}, err
	}
	return item, nil
}

// IDExists reports whether a global id has been allocated. Unknown ids are
// false, not an error.
func (c *Catalog) IDExists(id uint64) bool {
	return c.alloc.IDExists(c.store, id)
}

// UpdateItem applies an owner mutation to an item and keeps every index in
// step, all in one atomic commit: a price change moves the id between price
// nodes, a keyword change removes vanished keywords and inserts new ones.
func (c *Catalog) UpdateItem(ctx context.Context, owner string, id uint64, upd ItemUpdate) (err error) {
	defer func(start time.Time) {
		c.metrics.RecordMutation(time.Since(start), err)
		c.logger.LogMutation(ctx, "update", id, err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}
	if upd.Name != nil && *upd.Name == "" {
		return fmt.Errorf("%w: empty item name", ErrInvalidInput)
	}

	var newKeywords []string
	if upd.Keywords != nil {
		newKeywords = dedupeKeywords(upd.Keywords)
		for _, kw := range newKeywords {
			if kw == "" {
				return fmt.Errorf("%w: empty keyword", ErrInvalidInput)
			}
		}
		if len(newKeywords) > int(c.cfg.MaxKeywordsPerItem) {
			return fmt.Errorf("%w: %d keywords exceeds limit %d",
				ErrInvalidInput, len(newKeywords), c.cfg.MaxKeywordsPerItem)
		}
	}

	tx := c.store.Begin()
	item, err := c.ownedItem(tx, owner, id)
	if err != nil {
		return err
	}

	if upd.Name != nil {
		item.Name = *upd.Name
	}
	if upd.Description != nil {
		item.Description = *upd.Description
	}

	if upd.Price != nil && *upd.Price != item.Price {
		if _, err = c.price.Remove(tx, id, item.Price); err != nil {
			return translateError(err)
		}
		if err = c.price.Insert(tx, id, *upd.Price); err != nil {
			return translateError(err)
		}
		item.Price = *upd.Price
	}

	if upd.Keywords != nil {
		removed, added := diffKeywords(item.Keywords, newKeywords)
		for _, kw := range removed {
			if _, err = c.kw.Remove(tx, kw, id); err != nil {
				return translateError(err)
			}
		}
		for _, kw := range added {
			if err = c.kw.EnsureInitialized(tx, kw); err != nil {
				return translateError(err)
			}
			if err = c.kw.Insert(tx, kw, id); err != nil {
				return translateError(err)
			}
		}
		item.Keywords = newKeywords
	}

	itemData, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	if err = tx.Put(ItemAddress(id), itemData); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// RecordSale increments an item's sales count and moves its id between
// sales-index nodes accordingly, in one atomic commit. This is the only
// path that mutates SalesCount.
func (c *Catalog) RecordSale(ctx context.Context, id uint64, quantity uint32) (err error) {
	defer func(start time.Time) {
		c.metrics.RecordMutation(time.Since(start), err)
		c.logger.LogMutation(ctx, "sale", id, err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}
	if quantity == 0 {
		return fmt.Errorf("%w: zero sale quantity", ErrInvalidInput)
	}

	tx := c.store.Begin()
	data, ok := tx.Get(ItemAddress(id))
	if !ok {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	var item Item
	if err = item.UnmarshalBinary(data); err != nil {
		return err
	}

	oldCount := item.SalesCount
	item.SalesCount += quantity
	if _, err = c.sales.Remove(tx, id, uint64(oldCount)); err != nil {
		return translateError(err)
	}
	if err = c.sales.Insert(tx, id, uint64(item.SalesCount)); err != nil {
		return translateError(err)
	}

	itemData, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	if err = tx.Put(ItemAddress(id), itemData); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// DeactivateItem soft-deletes an item: the record stays, Active flips to
// false, and the id remains in every index.
func (c *Catalog) DeactivateItem(ctx context.Context, owner string, id uint64) (err error) {
	defer func(start time.Time) {
		c.metrics.RecordMutation(time.Since(start), err)
		c.logger.LogMutation(ctx, "deactivate", id, err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}

	tx := c.store.Begin()
	item, err := c.ownedItem(tx, owner, id)
	if err != nil {
		return err
	}
	item.Active = false
	itemData, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	if err = tx.Put(ItemAddress(id), itemData); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// DeleteItem hard-deletes an item: the record and all of its keyword, price
// and sales index memberships are removed in one atomic commit.
func (c *Catalog) DeleteItem(ctx context.Context, owner string, id uint64) (err error) {
	defer func(start time.Time) {
		c.metrics.RecordMutation(time.Since(start), err)
		c.logger.LogMutation(ctx, "delete", id, err)
	}(time.Now())
	if err = ctx.Err(); err != nil {
		return err
	}

	tx := c.store.Begin()
	item, err := c.ownedItem(tx, owner, id)
	if err != nil {
		return err
	}

	for _, kw := range item.Keywords {
		if _, err = c.kw.Remove(tx, kw, id); err != nil {
			return translateError(err)
		}
	}
	if _, err = c.price.Remove(tx, id, item.Price); err != nil {
		return translateError(err)
	}
	if _, err = c.sales.Remove(tx, id, uint64(item.SalesCount)); err != nil {
		return translateError(err)
	}
	if err = tx.Delete(ItemAddress(id)); err != nil {
		return translateError(err)
	}
	return translateError(tx.Commit())
}

// KeywordLookup returns the ids indexed under kw in shard order, paginated.
// An unknown keyword yields an empty result.
func (c *Catalog) KeywordLookup(ctx context.Context, kw string, offset, limit int) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := c.kw.Lookup(c.store, kw, offset, limit)
	return ids, translateError(err)
}

// PriceRangeQuery returns ids whose price falls in [start, end], in
// ascending range order, paginated.
func (c *Catalog) PriceRangeQuery(ctx context.Context, start, end uint64, offset, limit int) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := c.price.RangeQuery(c.store, start, end, offset, limit)
	return ids, translateError(err)
}

// SalesRangeQuery returns ids whose sales count falls in [start, end], in
// ascending range order, paginated.
func (c *Catalog) SalesRangeQuery(ctx context.Context, start, end uint64, offset, limit int) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := c.sales.RangeQuery(c.store, start, end, offset, limit)
	return ids, translateError(err)
}

// Stats returns a point-in-time summary of engine state.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var s Stats
	if data, ok := c.store.Get(idalloc.GlobalRootAddress()); ok {
		var root idalloc.GlobalRoot
		if err := root.UnmarshalBinary(data); err != nil {
			return Stats{}, err
		}
		s.Tenants = root.LastTenantID
	}
	if counter, ok := c.backing.(interface{ Len() int }); ok {
		s.Records = counter.Len()
	}

	var err error
	if s.PriceRanges, err = c.price.Ranges(c.store); err != nil {
		return Stats{}, err
	}
	if s.SalesRanges, err = c.sales.Ranges(c.store); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// SaveSnapshot writes the ledger's full state to the configured snapshot
// store. Requires an in-memory ledger backend and a snapshot store.
func (c *Catalog) SaveSnapshot(ctx context.Context) (err error) {
	defer func() { c.logger.LogSnapshot(ctx, "save", c.snapName, err) }()
	ml, err := c.memoryBacking()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = ml.SaveSnapshot(&buf); err != nil {
		return err
	}
	return c.snapStore.Put(ctx, c.snapName, buf.Bytes())
}

// RestoreSnapshot replaces the ledger's state from the configured snapshot
// store.
func (c *Catalog) RestoreSnapshot(ctx context.Context) (err error) {
	defer func() { c.logger.LogSnapshot(ctx, "restore", c.snapName, err) }()
	ml, err := c.memoryBacking()
	if err != nil {
		return err
	}

	data, err := c.snapStore.Get(ctx, c.snapName)
	if err != nil {
		return translateError(err)
	}
	return ml.LoadSnapshot(bytes.NewReader(data))
}

func (c *Catalog) memoryBacking() (*ledger.MemoryLedger, error) {
	if c.snapStore == nil {
		return nil, fmt.Errorf("%w: no snapshot store configured", ErrInvalidInput)
	}
	ml, ok := c.backing.(*ledger.MemoryLedger)
	if !ok {
		return nil, fmt.Errorf("%w: snapshots require a memory ledger backend", ErrInvalidInput)
	}
	return ml, nil
}

// ownedItem loads an item and verifies the owner's tenant owns it.
func (c *Catalog) ownedItem(tx *ledger.Tx, owner string, id uint64) (Item, error) {
	tenant, err := c.alloc.Tenant(tx, owner)
	if err != nil {
		return Item{}, translateError(err)
	}
	data, ok := tx.Get(ItemAddress(id))
	if !ok {
		return Item{}, fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	var item Item
	if err := item.UnmarshalBinary(data); err != nil {
		return Item{}, err
	}
	if item.OwnerTenantID != tenant.TenantID {
		return Item{}, fmt.Errorf("%w: item %d belongs to tenant %d", ErrNotOwner, id, item.OwnerTenantID)
	}
	return item, nil
}

// dedupeKeywords drops duplicates, preserving first-occurrence order.
func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// diffKeywords returns the keywords present only in old and only in new.
func diffKeywords(old, new []string) (removed, added []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, kw := range old {
		oldSet[kw] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, kw := range new {
		newSet[kw] = struct{}{}
	}
	for _, kw := range old {
		if _, ok := newSet[kw]; !ok {
			removed = append(removed, kw)
		}
	}
	for _, kw := range new {
		if _, ok := oldSet[kw]; !ok {
			added = append(added, kw)
		}
	}
	return removed, added
}
