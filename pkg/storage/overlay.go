// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package storage

import (
	"errors"
	"fmt"
	"sort"
)

// ErrReadOnly is returned when deleting a key that only exists in the
// read-only layer of an overlay
var ErrReadOnly = errors.New("storage: read-only")

// Overlay layers a writable backend over a read-only one. Reads check the
// upper layer first and fall back to the lower one; writes and deletes
// only touch the upper layer. It lets artifacts be loaded from a
// read-only key directory while the resolved names written back after a
// load are kept elsewhere.
type Overlay struct {
	lower Backend
	upper Backend
}

// NewOverlay returns an overlay of upper over the read-only lower backend
func NewOverlay(lower, upper Backend) *Overlay {
	return &Overlay{
		lower: lower,
		upper: upper,
	}
}

// Get returns the upper value for key, or the lower one if the upper
// layer does not hold key
func (o *Overlay) Get(key string) ([]byte, error) {
	value, err := o.upper.Get(key)
	if !errors.Is(err, ErrNotFound) {
		return value, err
	}
	return o.lower.Get(key)
}

// Put stores value in the upper layer
func (o *Overlay) Put(key string, value []byte, opts *Options) error {
	return o.upper.Put(key, value, opts)
}

// Delete removes key from the upper layer. Keys present only in the lower
// layer cannot be deleted and fail with ErrReadOnly.
func (o *Overlay) Delete(key string) error {
	err := o.upper.Delete(key)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	exists, lowerErr := o.lower.Exists(key)
	if lowerErr != nil {
		return lowerErr
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	return err
}

// List returns the sorted union of the keys of both layers
func (o *Overlay) List(prefix string) ([]string, error) {
	upper, err := o.upper.List(prefix)
	if err != nil {
		return nil, err
	}
	lower, err := o.lower.List(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(upper)+len(lower))
	keys := make([]string, 0, len(upper)+len(lower))
	for _, key := range append(upper, lower...) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether either layer holds key
func (o *Overlay) Exists(key string) (bool, error) {
	exists, err := o.upper.Exists(key)
	if err != nil || exists {
		return exists, err
	}
	return o.lower.Exists(key)
}

// Close closes both layers
func (o *Overlay) Close() error {
	return errors.Join(o.upper.Close(), o.lower.Close())
}
