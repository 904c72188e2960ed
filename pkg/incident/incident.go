// Copyright 2025 Kadir Pekel
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

// Package incident defines the incident input model.
//
// An Incident is the immutable input to a postmortem run: it is created
// once (usually loaded from a JSON file) and never mutated afterwards.
package incident

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Severity is the incident criticality tier. SEV1 is the most critical.
type Severity int

const (
	SeverityUnknown Severity = 0
	Sev1            Severity = 1
	Sev2            Severity = 2
	Sev3            Severity = 3
	Sev4            Severity = 4
)

// ParseSeverity converts a string like "SEV1" to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SEV1":
		return Sev1, nil
	case "SEV2":
		return Sev2, nil
	case "SEV3":
		return Sev3, nil
	case "SEV4":
		return Sev4, nil
	default:
		return SeverityUnknown, fmt.Errorf("invalid severity %q (expected SEV1-SEV4)", s)
	}
}

// String returns the canonical form, e.g. "SEV1".
func (s Severity) String() string {
	switch s {
	case Sev1, Sev2, Sev3, Sev4:
		return fmt.Sprintf("SEV%d", int(s))
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of SEV1-SEV4.
func (s Severity) Valid() bool {
	return s >= Sev1 && s <= Sev4
}

// AtLeast reports whether s is as critical as or more critical than other.
// SEV1 > SEV2 > SEV3 > SEV4.
func (s Severity) AtLeast(other Severity) bool {
	return s.Valid() && other.Valid() && s <= other
}

// MarshalJSON encodes the severity as its string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TimelineEntry is a single timestamped event during the incident.
type TimelineEntry struct {
	Time  string `json:"time"`
	Event string `json:"event"`
}

// Incident is the input to a postmortem run.
type Incident struct {
	ID               string          `json:"incident_id"`
	Title            string          `json:"title"`
	Severity         Severity        `json:"severity"`
	Description      string          `json:"description"`
	Logs             string          `json:"logs"`
	Metrics          map[string]any  `json:"metrics,omitempty"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`
	AffectedServices []string        `json:"affected_services,omitempty"`
	Responders       []string        `json:"responders,omitempty"`
}

// Validate checks that the required fields are present.
func (inc *Incident) Validate() error {
	if inc.ID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if !inc.Severity.Valid() {
		return fmt.Errorf("incident %s: invalid severity", inc.ID)
	}
	if inc.Title == "" && inc.Description == "" {
		return fmt.Errorf("incident %s: title or description is required", inc.ID)
	}
	return nil
}

// LoadFile loads an incident from a JSON file.
func LoadFile(path string) (*Incident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read incident file: %w", err)
	}
	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("failed to parse incident file %s: %w", path, err)
	}
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	return &inc, nil
}
