// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package utils

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/MKhiriev/go-sync-engine/models"
)

// digestPool holds reusable xxhash digests for ContentHash.
var digestPool = sync.Pool{
	New: func() any {
		return xxhash.New()
	},
}

// ContentHash returns a 64-bit digest of e's user-visible content. Sync
// metadata (version, pending flag, timestamps) is excluded, so two copies of
// a record that differ only in bookkeeping hash equal.
//
// The digest is computed over canonical JSON: encoding/json sorts map keys,
// which makes the encoding stable across calls and processes.
func ContentHash(e models.Entity) (uint64, error) {
	fields, err := models.EntityFields(e)
	if err != nil {
		return 0, err
	}
	for _, k := range models.MetadataFields {
		delete(fields, k)
	}

	canonical, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encode canonical %s content: %w", e.Table(), err)
	}

	return Hash(canonical), nil
}

// Hash computes the xxhash64 of data using a digest pulled from the pool.
func Hash(data []byte) uint64 {
	d := digestPool.Get().(*xxhash.Digest)
	d.Reset()

	_, _ = d.Write(data)
	sum := d.Sum64()

	d.Reset()
	digestPool.Put(d)

	return sum
}

// SameContent reports whether a and b carry identical content. Entities of
// different tables never match.
func SameContent(a, b models.Entity) (bool, error) {
	if a.Table() != b.Table() {
		return false, nil
	}
	ha, err := ContentHash(a)
	if err != nil {
		return false, err
	}
	hb, err := ContentHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
