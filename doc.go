// Package catalog implements a multi-tenant marketplace catalog engine on
// top of an append-only, account-oriented ledger.
//
// The engine maintains four cooperating structures, all addressed by
// deterministic key derivation so every participant computes record
// addresses without coordination:
//
//   - a chunked, bitmap-backed identifier allocator handing out dense
//     per-tenant global ids (package idalloc)
//   - a sharded inverted keyword index with per-shard membership
//     pre-filters (package keyword)
//   - two range-partitioned secondary indexes over price and sales count
//     that split nodes on overflow (package rangeidx)
//   - the item records themselves
//
// Every operation is exactly one atomic ledger commit: a failed CreateItem
// consumes no id and leaves no index entry behind. Structural growth (new
// id chunks, keyword shards, range-node splits) never happens on a data
// write path; a full structure fails the write with a retryable error (see
// IsRetryable) and the caller runs the matching Ensure or Split operation
// in its own commit before resubmitting.
//
// Basic usage:
//
//	led := ledger.NewMemoryLedger()
//	cat, err := catalog.New(led, catalog.DefaultConfig())
//	if err != nil { ... }
//
//	tenantID, err := cat.RegisterTenant(ctx, "alice")
//	err = cat.InitializePriceRange(ctx, 0, 1_000_000)
//	err = cat.InitializeSalesRange(ctx, 0, 1_000_000)
//
//	id, err := cat.CreateItem(ctx, "alice", catalog.ItemSpec{
//		Name:     "mechanical keyboard",
//		Price:    12900,
//		Keywords: []string{"keyboard", "mechanical"},
//	})
//
//	ids, err := cat.Search().
//		Keywords("keyboard").
//		PriceBetween(10000, 20000).
//		Execute(ctx)
package catalog
