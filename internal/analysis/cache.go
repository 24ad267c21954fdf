package analysis

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"

	"statement-analyzer/internal/domain"
)

type cacheEntry struct {
	table domain.LineItemTable
	err   error
}

// Cache memoizes Enrich by table content. Entries are never evicted; the cache
// lives as long as the process.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	misses  int
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Enrich returns the memoized result for raw, computing it on first sight.
// Callers get their own copy of the table.
func (c *Cache) Enrich(raw domain.LineItemTable) (domain.LineItemTable, error) {
	key := Digest(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		table, err := Enrich(raw)
		e = cacheEntry{table: table, err: err}
		c.entries[key] = e
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.table.Clone(), nil
}

// Len reports how many distinct tables have been seen.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Misses reports how many Enrich calls had to compute a result.
func (c *Cache) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

// Digest identifies a raw table by its labels and period values.
func Digest(t domain.LineItemTable) string {
	h := sha256.New()
	var buf [8]byte
	for _, row := range t {
		binary.BigEndian.PutUint64(buf[:], uint64(len(row.Label)))
		h.Write(buf[:])
		h.Write([]byte(row.Label))
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(row.Prior))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(row.Current))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
