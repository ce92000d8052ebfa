// Package hashcache provides a local content-addressed cache on top of a
// transactional key-value engine.
//
// Values are stored under the lowercase hex SHA-256 of their content. Writes
// with a key that does not match the content are rejected; reads re-hash the
// stored value and treat a mismatch as a miss, deleting the bad record.
//
// Basic usage:
//
//	c, _ := hashcache.Open(ctx, "~/.cache/myapp")
//	defer c.Close()
//
//	// Store content under its digest
//	key, _ := c.Add(ctx, data)
//
//	// Or with a known key
//	err := c.Put(ctx, hashcache.SHA256Hex(data), data)
//
//	// Retrieve content
//	data, found, _ := c.Get(ctx, key)
//
//	// Fetch on miss (http, https and oci:// blob URLs)
//	data, _ = c.GetOrFetch(ctx, key, "https://example.com/asset.bin")
//
//	// Maintenance
//	removed, _ := c.RemoveKeysNotIn(ctx, hashcache.NewKeySet(keep...))
//	report, _ := c.VerifyAndRepairAll(ctx)
//
// Storage engines are selected with WithDriver: "leveldb" (default),
// "badger" or "memory".
package hashcache
