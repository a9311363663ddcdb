// Package journal stores the leases pools had to reclaim in a Pebble
// database so leaks can be inspected after the fact.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/guileen/poolman/pool"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("journal: closed")

// ErrCorrupt is returned for a record whose checksum does not match
var ErrCorrupt = errors.New("journal: record checksum mismatch")

// Record keys are leakPrefix followed by a big-endian sequence number, so
// iteration order is recording order.
var (
	leakPrefix = []byte("l")
	leakUpper  = []byte("m")
)

// Journal is a pool.LeakJournal backed by Pebble. One Journal may be shared
// by several pools.
type Journal struct {
	mu      sync.Mutex
	db      *pebble.DB
	nextSeq uint64
	closed  bool
}

var _ pool.LeakJournal = (*Journal)(nil)

// Open opens or creates the journal in dir
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, nextSeq: 1}
	last, err := j.lastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	j.nextSeq = last + 1
	return j, nil
}

func (j *Journal) lastSeq() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: leakPrefix, UpperBound: leakUpper})
	if err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return decodeKey(iter.Key())
}

// Record appends leak to the journal
func (j *Journal) Record(ctx context.Context, leak pool.Leak) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	value := encodeLeak(leak)
	if err := j.db.Set(encodeKey(j.nextSeq), value, pebble.Sync); err != nil {
		return fmt.Errorf("write leak record: %w", err)
	}
	j.nextSeq++
	return nil
}

// List returns up to limit of the most recent leaks of poolName, newest
// first. An empty poolName matches every pool; limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, poolName string, limit int) ([]pool.Leak, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: leakPrefix, UpperBound: leakUpper})
	if err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	defer iter.Close()

	var out []pool.Leak
	for valid := iter.Last(); valid; valid = iter.Prev() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		leak, err := decodeLeak(iter.Value())
		if err != nil {
			return out, fmt.Errorf("decode leak record: %w", err)
		}
		if poolName != "" && leak.Pool != poolName {
			continue
		}
		out = append(out, leak)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Close closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, len(leakPrefix)+8)
	copy(key, leakPrefix)
	binary.BigEndian.PutUint64(key[len(leakPrefix):], seq)
	return key
}

func decodeKey(key []byte) (uint64, error) {
	if len(key) != len(leakPrefix)+8 || !bytes.HasPrefix(key, leakPrefix) {
		return 0, fmt.Errorf("invalid journal key %x", key)
	}
	return binary.BigEndian.Uint64(key[len(leakPrefix):]), nil
}

// Record layout, all integers big-endian:
//
//	checksum    4  crc32 of everything after it
//	reason      1
//	lease id   16
//	acquired    8  unix nanoseconds
//	reclaimed   8  unix nanoseconds
//	pool len    4
//	pool name   n
const headerSize = 4 + 1 + 16 + 8 + 8 + 4

var reasonCodes = map[pool.LeakReason]byte{
	pool.LeakUnreachable: 0,
	pool.LeakShutdown:    1,
}

var reasons = map[byte]pool.LeakReason{
	0: pool.LeakUnreachable,
	1: pool.LeakShutdown,
}

func encodeLeak(leak pool.Leak) []byte {
	buf := make([]byte, headerSize+len(leak.Pool))
	buf[4] = reasonCodes[leak.Reason]
	copy(buf[5:21], leak.LeaseID[:])
	binary.BigEndian.PutUint64(buf[21:], uint64(leak.AcquiredAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[29:], uint64(leak.ReclaimedAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[37:], uint32(len(leak.Pool)))
	copy(buf[headerSize:], leak.Pool)
	binary.BigEndian.PutUint32(buf[0:], crc32.ChecksumIEEE(buf[4:]))
	return buf
}

func decodeLeak(data []byte) (pool.Leak, error) {
	if len(data) < headerSize {
		return pool.Leak{}, fmt.Errorf("invalid leak record size %d", len(data))
	}
	if binary.BigEndian.Uint32(data[0:]) != crc32.ChecksumIEEE(data[4:]) {
		return pool.Leak{}, ErrCorrupt
	}
	reason, ok := reasons[data[4]]
	if !ok {
		return pool.Leak{}, fmt.Errorf("unknown leak reason %d", data[4])
	}
	n := binary.BigEndian.Uint32(data[37:])
	if len(data) != headerSize+int(n) {
		return pool.Leak{}, fmt.Errorf("invalid leak record size for pool name")
	}

	var id uuid.UUID
	copy(id[:], data[5:21])
	return pool.Leak{
		Pool:        string(data[headerSize:]),
		LeaseID:     id,
		AcquiredAt:  time.Unix(0, int64(binary.BigEndian.Uint64(data[21:]))),
		ReclaimedAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[29:]))),
		Reason:      reason,
	}, nil
}
