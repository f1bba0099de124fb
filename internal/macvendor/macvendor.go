// Package macvendor resolves a conflict's responder MAC address to a
// vendor name, so a logged or published conflict carries more than a
// bare OUI. The database is loaded from an IEEE-derived macdb.json file
// at startup; a missing or unset path just means lookups return "".
package macvendor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Entry is a single MAC vendor database record.
type Entry struct {
	MacPrefix  string `json:"macPrefix"`
	VendorName string `json:"vendorName"`
	Private    bool   `json:"private"`
	BlockType  string `json:"blockType"`
}

// DB is the in-memory MAC vendor database.
type DB struct {
	logger *slog.Logger

	mu      sync.RWMutex
	vendors map[string]string // normalized prefix -> vendor name
	count   int
}

// NewDB creates an empty MAC vendor database.
func NewDB(logger *slog.Logger) *DB {
	return &DB{
		logger:  logger,
		vendors: make(map[string]string),
	}
}

// LoadFile reads path and loads it as a macdb.json database. Used at
// daemon startup; a missing file is reported but not fatal, since
// vendor enrichment is cosmetic.
func (db *DB) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading mac vendor database %s: %w", path, err)
	}
	return db.Load(data)
}

// Load parses a macdb.json byte slice and loads it into memory.
func (db *DB) Load(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing macdb.json: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.vendors = make(map[string]string, len(entries))
	for _, e := range entries {
		prefix := normalizePrefix(e.MacPrefix)
		if prefix != "" {
			db.vendors[prefix] = e.VendorName
		}
	}
	db.count = len(db.vendors)
	if db.logger != nil {
		db.logger.Info("mac vendor database loaded", "entries", db.count)
	}
	return nil
}

// Lookup returns the vendor name for a MAC address, or "" if unknown.
func (db *DB) Lookup(mac string) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	normalized := normalizeMac(mac)
	if len(normalized) < 6 {
		return ""
	}

	// Longest prefix first: MA-S = 9 hex chars, MA-M = 7, MA-L = 6.
	for _, prefixLen := range []int{9, 7, 6} {
		if prefixLen > len(normalized) {
			continue
		}
		if vendor, ok := db.vendors[normalized[:prefixLen]]; ok {
			return vendor
		}
	}

	return ""
}

// Count returns the number of vendor entries loaded.
func (db *DB) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.count
}

func normalizePrefix(prefix string) string {
	return normalizeMac(prefix)
}

func normalizeMac(mac string) string {
	s := strings.ReplaceAll(mac, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, ".", "")
	return strings.ToLower(s)
}
