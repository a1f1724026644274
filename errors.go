package catalog

import (
	"errors"
	"fmt"

	"github.com/FOCX-Labs/shop-sub001/idalloc"
	"github.com/FOCX-Labs/shop-sub001/keyword"
	"github.com/FOCX-Labs/shop-sub001/ledger"
	"github.com/FOCX-Labs/shop-sub001/rangeidx"
)

var (
	// ErrNotFound is returned when an item, keyword, tenant or range does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on duplicate registration or
	// initialization. Non-retryable; the caller must branch.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput is returned for malformed requests (empty name,
	// oversized keyword list, bad ranges, non-positive configuration).
	// Rejected before any record is touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCapacityExceeded is the retryable class: a chunk, shard or range
	// node was full. The caller should create the prerequisite structure
	// (see the wrapped typed error) and resubmit.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrOverlap is returned when a new range intersects an existing one.
	// Non-retryable; signals a caller bug.
	ErrOverlap = errors.New("range overlap")

	// ErrAddressCollision is returned when a record creation targets an
	// occupied address. Non-retryable; signals a caller bug.
	ErrAddressCollision = errors.New("address collision")

	// ErrConflict is returned when a concurrent commit touched a record
	// this operation read. Retryable: re-run against the new state.
	ErrConflict = errors.New("conflict")

	// ErrNotOwner is returned when a mutation targets an item owned by a
	// different tenant.
	ErrNotOwner = errors.New("not the item owner")
)

// IsRetryable reports whether the caller can recover by performing the
// prerequisite structural operation (or simply re-running) and resubmitting.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrConflict)
}

// translateError unifies sub-package errors into the public taxonomy. The
// original error stays reachable through errors.As/Unwrap, so callers can
// inspect e.g. *keyword.ShardFullError for the shard to create.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Retryable capacity class.
	var chunkFull *idalloc.ChunkExhaustedError
	if errors.As(err, &chunkFull) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	var shardFull *keyword.ShardFullError
	if errors.As(err, &shardFull) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	var nodeFull *rangeidx.NodeFullError
	if errors.As(err, &nodeFull) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	if errors.Is(err, idalloc.ErrChunkIndexOverflow) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}

	// Duplicate creation.
	if errors.Is(err, idalloc.ErrAlreadyRegistered) || errors.Is(err, keyword.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}

	// Not-found unification.
	if errors.Is(err, idalloc.ErrTenantNotFound) || errors.Is(err, rangeidx.ErrUncovered) ||
		errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Structural invariant violations.
	if errors.Is(err, rangeidx.ErrOverlap) {
		return fmt.Errorf("%w: %w", ErrOverlap, err)
	}
	if errors.Is(err, ledger.ErrAddressCollision) {
		return fmt.Errorf("%w: %w", ErrAddressCollision, err)
	}
	if errors.Is(err, rangeidx.ErrUnsplittable) || errors.Is(err, rangeidx.ErrNoSuchRange) ||
		errors.Is(err, keyword.ErrInvalidShardIndex) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	// Concurrency.
	if errors.Is(err, ledger.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	return err
}
