// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wires the optional opencensus Stackdriver trace
// exporter around the spans writeengine already emits via
// go.opencensus.io/trace (commitment emits none). Exporting is entirely optional: with no
// StackdriverProjectID configured, spans are still recorded in-process
// (useful for local trace.DefaultSampler experimentation) but never
// shipped anywhere.
package telemetry

import (
	"fmt"

	stackdriver "contrib.go.opencensus.io/exporter/stackdriver"
	"go.opencensus.io/trace"
)

// Exporter wraps the Stackdriver exporter's lifecycle so callers don't
// need to import contrib.go.opencensus.io directly.
type Exporter struct {
	sd *stackdriver.Exporter
}

// Start registers a Stackdriver trace exporter for projectID and sets
// the global opencensus sampler to always-sample, matching the
// teacher's own tracing setup for its server binaries. Call Stop during
// shutdown to flush any buffered spans.
func Start(projectID string) (*Exporter, error) {
	sd, err := stackdriver.NewExporter(stackdriver.Options{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("telemetry: new stackdriver exporter: %w", err)
	}
	trace.RegisterExporter(sd)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	return &Exporter{sd: sd}, nil
}

// Stop flushes buffered spans and deregisters the exporter.
func (e *Exporter) Stop() {
	if e == nil {
		return
	}
	e.sd.Flush()
	trace.UnregisterExporter(e.sd)
}
