// Package cache provides the LRU cache that keeps compiled kernels.
//
// Compiling WGSL with naga costs far more than a map lookup, and programs
// tend to create the same kernel many times (one per engine, one per test).
// Entries are keyed by a 64-bit FNV-1a digest of everything that affects
// the compiler output:
//
//	key := cache.KeyOf([]byte(src), []byte(entry), []byte{flags})
//	out, hit, err := c.GetOrCreate(key, compile)
//
// Cache is safe for concurrent use and must not be copied.
package cache
