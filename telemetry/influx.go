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

// Package telemetry exports per-do_step measurements: as InfluxDB
// line-protocol points to a remote database (this file), and into a
// local, in-process time series queryable after a run completes
// (localseries.go).
package telemetry

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// InfluxReporter sends one line-protocol point per DoStep to an
// InfluxDB v1 HTTP write endpoint, the same bare net/http POST shape
// the teacher's own metrics/influxdb reporter uses rather than pulling
// in the full client SDK.
type InfluxReporter struct {
	writeURL string
	client   *http.Client
	log      log.Logger
}

// NewInfluxReporter builds a reporter posting to addr's /write endpoint
// for the named database.
func NewInfluxReporter(addr, database string) (*InfluxReporter, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/") + "/write")
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	q := u.Query()
	q.Set("db", database)
	u.RawQuery = q.Encode()

	return &InfluxReporter{
		writeURL: u.String(),
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log.New("component", "telemetry.influx"),
	}, nil
}

// ReportStep posts one measurement point for a completed do_step call:
// simulated time, wall latency, and every real-valued output touched.
func (r *InfluxReporter) ReportStep(instanceID string, simTime float64, latency time.Duration, outputs map[string]float64) error {
	var b strings.Builder
	b.WriteString("dtasm_step,instance=")
	b.WriteString(instanceID)
	b.WriteString(fmt.Sprintf(" sim_time=%s,latency_ns=%di", strconv.FormatFloat(simTime, 'g', -1, 64), latency.Nanoseconds()))
	for name, val := range outputs {
		fmt.Fprintf(&b, ",%s=%s", sanitizeField(name), strconv.FormatFloat(val, 'g', -1, 64))
	}
	b.WriteByte('\n')

	req, err := http.NewRequest(http.MethodPost, r.writeURL, bytes.NewBufferString(b.String()))
	if err != nil {
		return dtasm.Transport(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("influx write failed", "err", err)
		return dtasm.Transport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return dtasm.DtasmInternalError(fmt.Sprintf("influx write: unexpected status %d", resp.StatusCode))
	}
	return nil
}

func sanitizeField(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, " ", "_"), ",", "_")
}
