package backend

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/thicket-db/thicket/internal/kcv"
)

// Version is the compatibility version of this release. It is persisted
// through the backend's configuration-property facility under
// versionProperty on first initialization.
const Version = "1.0.0"

// versionProperty is the well-known property key for the persisted
// compatibility marker. Fixed forever.
const versionProperty = "thicket-version"

// CompatibleVersions lists predecessor versions whose persisted data this
// release reads without migration. A marker in this set is upgraded to
// Version in place.
var CompatibleVersions = []string{"0.9.0", "0.9.1"}

// runVersionGate reads the persisted compatibility marker, upgrading or
// writing it as §outcomes dictate:
//
//   - absent or compatible predecessor: write Version, proceed
//   - equal to Version: proceed without writing
//   - anything else: fatal incompatibility
//
// Transient storage failures are retried within the setup wait budget;
// exhaustion is promoted to a fatal storage failure.
func (b *Backend) runVersionGate(ctx context.Context) error {
	props, ok := b.manager.(kcv.PropertyStore)
	if !ok {
		return capabilityErr("version gate", "backend does not persist configuration properties")
	}

	return execRetry(ctx, b.setupWait, b.attemptWait, func(ctx context.Context) error {
		stored, err := props.GetProperty(ctx, versionProperty)
		if err != nil {
			return err
		}
		switch {
		case stored == Version:
			return nil
		case stored == "" || slices.Contains(CompatibleVersions, stored):
			if err := props.SetProperty(ctx, versionProperty, Version); err != nil {
				return err
			}
			if stored != "" {
				b.log.Info("upgraded backend compatibility version", "from", stored, "to", Version)
			}
			return nil
		default:
			return incompatibilityErr("version gate",
				fmt.Sprintf("storage backend version %q is incompatible with %q", stored, Version))
		}
	})
}

// execRetry runs fn, retrying transient failures with a fixed wait until
// the total budget is spent. The attempt count is derived from the budget
// up front, so exhaustion is deterministic. Non-transient failures return
// immediately.
func execRetry(ctx context.Context, budget, wait time.Duration, fn func(ctx context.Context) error) error {
	attempts := int(budget/wait) + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !kcv.IsTransient(lastErr) {
			return lastErr
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return storageErr("retry",
		fmt.Sprintf("operation failed after %d attempts over %v", attempts, budget), lastErr)
}
