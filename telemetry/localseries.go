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

package telemetry

import (
	"github.com/prometheus/tsdb"
	"github.com/prometheus/tsdb/labels"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// LocalSeries is an in-process time-series store of a run's real-valued
// output variables, queryable once the run completes without standing
// up an external database.
type LocalSeries struct {
	db  *tsdb.DB
	log log.Logger
}

// OpenLocalSeries opens (creating if absent) a tsdb block directory
// at dir, with a week-long retention window comfortably longer than
// any single simulation run.
func OpenLocalSeries(dir string) (*LocalSeries, error) {
	opts := &tsdb.Options{
		WALSegmentSize:    -1,
		RetentionDuration: 7 * 24 * 60 * 60 * 1000,
		MinBlockDuration:  tsdb.DefaultBlockDuration,
		MaxBlockDuration:  tsdb.DefaultBlockDuration,
	}
	db, err := tsdb.Open(dir, nil, nil, opts)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	return &LocalSeries{db: db, log: log.New("component", "telemetry.localseries")}, nil
}

// Close flushes and closes the underlying tsdb database.
func (s *LocalSeries) Close() error {
	return s.db.Close()
}

// RecordStep appends one sample per output variable at timestampMillis.
func (s *LocalSeries) RecordStep(instanceID string, timestampMillis int64, outputs map[string]float64) error {
	app := s.db.Appender()
	for name, val := range outputs {
		lbls := labels.Labels{
			{Name: "__name__", Value: "dtasm_output"},
			{Name: "instance", Value: instanceID},
			{Name: "variable", Value: name},
		}
		if _, err := app.Add(lbls, timestampMillis, val); err != nil {
			app.Rollback()
			return dtasm.Transport(err)
		}
	}
	if err := app.Commit(); err != nil {
		return dtasm.Transport(err)
	}
	return nil
}
