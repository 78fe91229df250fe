// Package store implements the reverse IP->name map: an in-memory view
// fronted by an on-disk bbolt key/value file, safe for concurrent use by
// the framestream ingest side and the TCP lookup side.
package store

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// bucketName is the single bbolt bucket holding canonical-ip -> name entries.
var bucketName = []byte("reverse")

// ErrStoreIO wraps a disk read/write failure. Per spec.md §7, Add
// failures are logged and the observation is dropped; Get failures are
// logged and treated as absent.
var ErrStoreIO = errors.New("store: disk I/O error")

// Store is the reverse IP->name map described in spec.md §4.D.
type Store struct {
	mu     sync.RWMutex
	memory map[string]string
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (creating if absent) the bbolt file at path and returns a
// ready Store. The in-memory map starts empty; entries are promoted into
// it lazily on first Get, matching the reference implementation's
// shelve-backed lookup cache.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreIO, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", ErrStoreIO, err)
	}

	return &Store{
		memory: make(map[string]string),
		db:     db,
		logger: logger,
	}, nil
}

// canonicalIP returns the canonical compressed textual form of ip, which
// may be given as a dotted/compressed string or as packed network-order
// bytes (4 or 16 bytes).
func canonicalIP(ip any) (string, error) {
	switch v := ip.(type) {
	case string:
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return "", fmt.Errorf("invalid ip %q: %w", v, err)
		}
		return addr.String(), nil
	case []byte:
		addr, ok := netip.AddrFromSlice(v)
		if !ok {
			return "", fmt.Errorf("invalid packed ip of length %d", len(v))
		}
		return addr.Unmap().String(), nil
	case net.IP:
		addr, ok := netip.AddrFromSlice(v)
		if !ok {
			return "", fmt.Errorf("invalid net.IP of length %d", len(v))
		}
		return addr.Unmap().String(), nil
	case netip.Addr:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported ip value type %T", ip)
	}
}

// Add records that ip resolves to name, canonicalising ip first. If ip is
// already present with a different name, the prior name is replaced and
// a replacement notice is logged; if present with the same name this is
// a no-op (spec.md §4.D).
//
// Add accepts a dotted/compressed string, packed bytes, net.IP, or
// netip.Addr for ip; callers that already have a canonical string (the
// common case from tapreader) pass that directly.
func (s *Store) Add(ip any, name string) {
	canonical, err := canonicalIP(ip)
	if err != nil {
		s.logger.Warn("store.add.invalid_ip", zap.Any("ip", ip), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.memory[canonical]; ok {
		if current == name {
			return
		}
		s.logger.Info("store.replace", zap.String("ip", canonical), zap.String("old", current), zap.String("new", name))
	} else {
		s.logger.Info("store.learn", zap.String("ip", canonical), zap.String("name", name))
	}

	if err := s.writeThrough(canonical, name); err != nil {
		s.logger.Warn("store.add.write_through", zap.String("ip", canonical), zap.Error(err))
		return
	}

	s.memory[canonical] = name
}

func (s *Store) writeThrough(ip, name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(ip), []byte(name))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	return nil
}

// Get returns the name last learned for ip, or ok==false if unknown. It
// consults the in-memory map first; on miss it consults the disk store
// and promotes the result into memory.
func (s *Store) Get(ip any) (string, bool) {
	canonical, err := canonicalIP(ip)
	if err != nil {
		s.logger.Warn("store.get.invalid_ip", zap.Error(err))
		return "", false
	}

	s.mu.RLock()
	name, ok := s.memory[canonical]
	s.mu.RUnlock()
	if ok {
		return name, true
	}

	name, ok, err = s.readDisk(canonical)
	if err != nil {
		s.logger.Warn("store.get.disk", zap.String("ip", canonical), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}

	s.mu.Lock()
	s.memory[canonical] = name
	s.mu.Unlock()

	return name, true
}

func (s *Store) readDisk(ip string) (string, bool, error) {
	var name string
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(ip))
		if v != nil {
			name = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStoreIO, err)
	}

	return name, found, nil
}

// Close flushes and releases the on-disk store handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStoreIO, err)
	}
	return nil
}
