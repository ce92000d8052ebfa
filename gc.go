package hashcache

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/hashcache/internal/store"
)

// KeySet is a set of keys to keep during garbage collection.
type KeySet map[string]struct{}

func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s KeySet) Add(key string)      { s[key] = struct{}{} }
func (s KeySet) Has(key string) bool { _, ok := s[key]; return ok }
func (s KeySet) Len() int            { return len(s) }

// RemoveKeysNotIn deletes every key not in keep, in a single transaction,
// and returns how many were removed.
func (c *Cache) RemoveKeysNotIn(ctx context.Context, keep KeySet) (int, error) {
	keys, err := c.store.AllKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	var drop []string
	for _, k := range keys {
		if !keep.Has(k) {
			drop = append(drop, k)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	if err := c.removeAll(ctx, drop); err != nil {
		return 0, fmt.Errorf("remove unreferenced keys: %w", err)
	}
	c.log.WithFields(log.Fields{
		"kept":    len(keys) - len(drop),
		"removed": len(drop),
	}).Info("garbage collected")
	return len(drop), nil
}

// RepairReport summarizes a VerifyAndRepairAll sweep.
type RepairReport struct {
	Checked int
	Removed []string
}

// VerifyAndRepairAll re-hashes every stored value and deletes, in a single
// transaction, every record that does not match its key or cannot be
// decoded.
func (c *Cache) VerifyAndRepairAll(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	p := pool.NewWithResults[string]().
		WithMaxGoroutines(c.opts.Concurrency).
		WithContext(ctx)

	err := c.store.Iterate(ctx, func(rec store.Record) error {
		report.Checked++
		p.Go(func(context.Context) (string, error) {
			if rec.Err != nil || SHA256Hex(rec.Value) != rec.Key {
				return rec.Key, nil
			}
			return "", nil
		})
		return nil
	})
	results, perr := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if perr != nil {
		return nil, fmt.Errorf("verify records: %w", perr)
	}

	for _, key := range results {
		if key != "" {
			report.Removed = append(report.Removed, key)
		}
	}
	if len(report.Removed) == 0 {
		return report, nil
	}
	sort.Strings(report.Removed)

	if err := c.removeAll(ctx, report.Removed); err != nil {
		return nil, fmt.Errorf("remove corrupt records: %w", err)
	}
	c.repaired.Add(int64(len(report.Removed)))
	c.log.WithFields(log.Fields{
		"checked": report.Checked,
		"removed": len(report.Removed),
	}).Warn("removed corrupt records")
	return report, nil
}

func (c *Cache) removeAll(ctx context.Context, keys []string) error {
	return c.store.Update(ctx, c.opts.Durability, func(tx *store.Transaction) error {
		for _, k := range keys {
			if err := tx.RemoveRecord(k); err != nil {
				return err
			}
		}
		return nil
	})
}
