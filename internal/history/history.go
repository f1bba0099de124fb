// Package history persists a per-interface, per-address conflict ledger
// across restarts, so acd-hostd can report recent conflict activity for
// an address it is not currently probing.
package history

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketConflicts = []byte("acd_conflicts")

// Record is the persisted conflict history for one (interface, IP) pair.
type Record struct {
	Interface    string    `json:"interface"`
	IP           net.IP    `json:"ip"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	LastPhase    string    `json:"last_phase"`
	ResponderMAC string    `json:"responder_mac,omitempty"`
	Conflicts    int       `json:"conflicts"`
	Quiesced     bool      `json:"quiesced"`
	QuiescedAt   time.Time `json:"quiesced_at,omitempty"`
}

func key(ifname string, ip net.IP) string {
	return ifname + "|" + ip.String()
}

// Ledger manages the conflict history table with BoltDB persistence and
// an in-memory cache, mirroring the shape of a write-through cache over
// a single bucket.
type Ledger struct {
	db      *bolt.DB
	records map[string]*Record
	mu      sync.RWMutex
}

// Open creates or opens a Ledger backed by db, creating its bucket if
// necessary, and loads all existing records into memory.
func Open(db *bolt.DB) (*Ledger, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConflicts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating conflicts bucket: %w", err)
	}

	l := &Ledger{
		db:      db,
		records: make(map[string]*Record),
	}
	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading conflict history: %w", err)
	}
	return l, nil
}

func (l *Ledger) loadAll() error {
	return l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			r := &Record{}
			if err := json.Unmarshal(v, r); err != nil {
				return fmt.Errorf("unmarshalling conflict record %s: %w", k, err)
			}
			l.records[string(k)] = r
			return nil
		})
	})
}

// RecordConflict appends a conflict observation for ifname/ip, creating
// the record if it doesn't already exist.
func (l *Ledger) RecordConflict(ifname string, ip net.IP, phase, responderMAC string, conflicts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(ifname, ip)
	now := time.Now()

	r, ok := l.records[k]
	if !ok {
		r = &Record{
			Interface: ifname,
			IP:        ip,
			FirstSeen: now,
		}
	}
	r.LastSeen = now
	r.LastPhase = phase
	r.ResponderMAC = responderMAC
	r.Conflicts = conflicts
	l.records[k] = r

	return l.persist(k, r)
}

// RecordQuiesced marks the ledger entry for ifname/ip as quiesced.
func (l *Ledger) RecordQuiesced(ifname string, ip net.IP) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(ifname, ip)
	r, ok := l.records[k]
	if !ok {
		r = &Record{Interface: ifname, IP: ip, FirstSeen: time.Now()}
		l.records[k] = r
	}
	r.Quiesced = true
	r.QuiescedAt = time.Now()

	return l.persist(k, r)
}

// ClearQuiesced resets the quiesced flag for ifname/ip after a Reset.
func (l *Ledger) ClearQuiesced(ifname string, ip net.IP) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(ifname, ip)
	r, ok := l.records[k]
	if !ok {
		return nil
	}
	r.Quiesced = false
	r.QuiescedAt = time.Time{}

	return l.persist(k, r)
}

// Get returns the record for ifname/ip, or nil if none exists.
func (l *Ledger) Get(ifname string, ip net.IP) *Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[key(ifname, ip)]
	if !ok {
		return nil
	}
	rc := *r
	return &rc
}

// ForInterface returns all records belonging to ifname.
func (l *Ledger) ForInterface(ifname string) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Record
	for _, r := range l.records {
		if r.Interface == ifname {
			rc := *r
			out = append(out, &rc)
		}
	}
	return out
}

// Clear removes the ledger entry for ifname/ip entirely.
func (l *Ledger) Clear(ifname string, ip net.IP) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(ifname, ip)
	delete(l.records, k)

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		return b.Delete([]byte(k))
	})
}

func (l *Ledger) persist(k string, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		return b.Put([]byte(k), data)
	})
}
