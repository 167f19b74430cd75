// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

package runtime

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/VictoriaMetrics/fastcache"
)

// statecacheBytes is the fastcache budget per instance: generous enough
// to hold a handful of recent snapshots of a modestly-sized module.
const statecacheBytes = 4 * 1024 * 1024

// statecache memoizes the expensive half of save_state/load_state —
// snappy compression and decompression — keyed by content digest, so a
// repeated save_state/load_state against unchanged memory skips redoing
// that work (SPEC_FULL §6: VictoriaMetrics/fastcache). It deliberately
// does not cache around the file I/O itself: a hit still writes/reads the
// file, since the cache's job is to short-circuit compression, not disk
// access.
type statecache struct {
	instanceID string
	c          *fastcache.Cache
}

func newStateCache(instanceID string) *statecache {
	return &statecache{instanceID: instanceID, c: fastcache.New(statecacheBytes)}
}

// compressedKeyPrefix/decompressedKeyPrefix keep the two caching
// directions (memory digest -> compressed bytes, payload digest ->
// decompressed bytes) from colliding in the one shared fastcache.
const compressedKeyPrefix = "c:"
const decompressedKeyPrefix = "d:"

func digestKey(prefix string, data []byte) []byte {
	sum := sha256.Sum256(data)
	return []byte(prefix + hex.EncodeToString(sum[:]))
}

// getCompressed returns the previously cached snappy-compressed bytes for
// the given raw linear-memory content, if save_state has already
// compressed this exact content.
func (s *statecache) getCompressed(mem []byte) ([]byte, bool) {
	v := s.c.GetBig(nil, digestKey(compressedKeyPrefix, mem))
	return v, len(v) > 0
}

// putCompressed records compressed as the compression of mem.
func (s *statecache) putCompressed(mem, compressed []byte) {
	s.c.SetBig(digestKey(compressedKeyPrefix, mem), compressed)
}

// getDecompressed returns the previously cached decompressed bytes for
// the given snappy-compressed payload, if load_state has already
// decompressed this exact payload.
func (s *statecache) getDecompressed(payload []byte) ([]byte, bool) {
	v := s.c.GetBig(nil, digestKey(decompressedKeyPrefix, payload))
	return v, len(v) > 0
}

// putDecompressed records mem as the decompression of payload.
func (s *statecache) putDecompressed(payload, mem []byte) {
	s.c.SetBig(digestKey(decompressedKeyPrefix, payload), mem)
}
