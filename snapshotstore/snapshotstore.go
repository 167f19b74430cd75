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

// Package snapshotstore is a named-snapshot store keyed by (module id,
// label), backing the --state-db/--state-label flags as an alternative
// to single-file --state-to/--state-from. It is a thin wrapper over a
// LevelDB instance, the same storage engine the teacher uses for its
// own key-value backend.
package snapshotstore

import (
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// Store is a LevelDB-backed map from (module id, label) to a saved
// snapshot blob, as produced by runtime.SaveState.
type Store struct {
	db  *leveldb.DB
	log log.Logger
}

// Open opens (creating if absent) a LevelDB store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	return &Store{db: db, log: log.New("component", "snapshotstore")}, nil
}

// Close releases the underlying LevelDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(modelID, label string) []byte {
	return []byte(modelID + "\x00" + label)
}

// Put stores snapshot under (modelID, label), overwriting any existing
// entry with the same key.
func (s *Store) Put(modelID, label string, snapshot []byte) error {
	if err := s.db.Put(key(modelID, label), snapshot, nil); err != nil {
		return dtasm.Transport(err)
	}
	s.log.Debug("stored snapshot", "model", modelID, "label", label, "bytes", len(snapshot))
	return nil
}

// Get retrieves the snapshot stored under (modelID, label). It returns
// a DtasmInternalError if no such entry exists.
func (s *Store) Get(modelID, label string) ([]byte, error) {
	data, err := s.db.Get(key(modelID, label), nil)
	if err == leveldb.ErrNotFound {
		return nil, dtasm.DtasmInternalError("no snapshot stored for " + modelID + "/" + label)
	}
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	return data, nil
}

// Labels lists every label stored for modelID.
func (s *Store) Labels(modelID string) ([]string, error) {
	prefix := []byte(modelID + "\x00")
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var labels []string
	for iter.Seek(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		labels = append(labels, string(k[len(prefix):]))
	}
	return labels, iter.Error()
}
