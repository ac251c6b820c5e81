// Copyright 2025 ankohanse
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

package xcom

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

//go:embed datapoints_240v.json datapoints_120v.json
var datapointFiles embed.FS

// Voltage selects the grid-voltage variant of the datapoint dictionary.
// The 120 Vac variant overrides a handful of entries of the 240 Vac base
// table (AC output setpoints and their bounds).
type Voltage string

const (
	Voltage240 Voltage = "240 Vac"
	Voltage120 Voltage = "120 Vac"
)

// Bounds describes the value constraints of a datapoint.
type Bounds interface {
	boundsKind() string
}

// Signal marks an action control: writing triggers something, the numeric
// range fields carry no meaning.
type Signal struct{}

func (Signal) boundsKind() string { return "signal" }

// Bounded carries the numeric constraints of a parameter. Fields the
// dictionary leaves out are nil.
type Bounded struct {
	Default *float64
	Min     *float64
	Max     *float64
	Inc     *float64
}

func (Bounded) boundsKind() string { return "bounded" }

// EnumOption is one value of an enum-formatted datapoint.
type EnumOption struct {
	Value uint32
	Label string
}

// Datapoint describes one named value a device exposes: a writable
// parameter or a read-only info.
type Datapoint struct {
	Family  string
	Level   Level
	Parent  uint32
	Nr      uint32
	Name    string
	Abbr    string
	Unit    string
	Format  Format
	Bounds  Bounds
	Options []EnumOption
}

func (dp *Datapoint) String() string {
	return fmt.Sprintf("%s %d %s (%s, %s)", dp.Family, dp.Nr, dp.Name, dp.Level, dp.Format)
}

// datapointRecord is the wire form of a dictionary entry.
type datapointRecord struct {
	Fam   string            `json:"fam"`
	Lvl   string            `json:"lvl"`
	Pnr   *uint32           `json:"pnr"`
	Nr    uint32            `json:"nr"`
	Name  string            `json:"name"`
	Short string            `json:"short"`
	Unit  string            `json:"unit"`
	Fmt   string            `json:"fmt"`
	Def   json.RawMessage   `json:"def"`
	Min   json.RawMessage   `json:"min"`
	Max   json.RawMessage   `json:"max"`
	Inc   json.RawMessage   `json:"inc"`
	Opt   map[string]string `json:"opt"`
}

// boundField parses one of def/min/max/inc: a number, the literal "S"
// marking a signal control, or absent.
func boundField(raw json.RawMessage) (*float64, bool, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "S" {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("unexpected bound %q", s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, err
	}
	return &f, false, nil
}

func (r *datapointRecord) toDatapoint() (*Datapoint, error) {
	if r.Fam == "" || r.Lvl == "" || r.Nr == 0 || r.Name == "" || r.Fmt == "" {
		return nil, fmt.Errorf("record %d incomplete", r.Nr)
	}
	if r.Pnr == nil {
		return nil, fmt.Errorf("record %d has no parent", r.Nr)
	}

	level, err := ParseLevel(r.Lvl)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.Nr, err)
	}
	format, err := ParseFormat(r.Fmt)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.Nr, err)
	}

	dp := &Datapoint{
		Family: r.Fam,
		Level:  level,
		Parent: *r.Pnr,
		Nr:     r.Nr,
		Name:   r.Name,
		Abbr:   r.Short,
		Unit:   r.Unit,
		Format: format,
	}

	var bounded Bounded
	signal := false
	var present bool
	for _, f := range []struct {
		raw  json.RawMessage
		dest **float64
	}{
		{r.Def, &bounded.Default},
		{r.Min, &bounded.Min},
		{r.Max, &bounded.Max},
		{r.Inc, &bounded.Inc},
	} {
		val, isSignal, err := boundField(f.raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.Nr, err)
		}
		if isSignal {
			signal = true
		}
		if val != nil {
			*f.dest = val
			present = true
		}
	}
	switch {
	case signal:
		dp.Bounds = Signal{}
	case present:
		dp.Bounds = bounded
	}

	if len(r.Opt) > 0 {
		dp.Options = make([]EnumOption, 0, len(r.Opt))
		for k, label := range r.Opt {
			v, err := strconv.ParseUint(k, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("record %d: enum key %q: %w", r.Nr, k, err)
			}
			dp.Options = append(dp.Options, EnumOption{Value: uint32(v), Label: label})
		}
		sort.Slice(dp.Options, func(i, j int) bool {
			return dp.Options[i].Value < dp.Options[j].Value
		})
	}

	return dp, nil
}

// OptionLabel resolves an enum value to its label.
func (dp *Datapoint) OptionLabel(value uint32) (string, bool) {
	for _, opt := range dp.Options {
		if opt.Value == value {
			return opt.Label, true
		}
	}
	return "", false
}

// Dataset is the loaded datapoint dictionary. It preserves the file order
// of its entries; menu traversal relies on it.
type Dataset struct {
	datapoints []*Datapoint
}

// NewDataset wraps an already-built list of datapoints.
func NewDataset(datapoints []*Datapoint) *Dataset {
	return &Dataset{datapoints: datapoints}
}

// LoadDataset reads dictionary records from JSON. Records that fail to
// parse abort the load; a dictionary with silently missing entries is worse
// than no dictionary.
func LoadDataset(r io.Reader) (*Dataset, error) {
	var records []datapointRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}

	ds := &Dataset{datapoints: make([]*Datapoint, 0, len(records))}
	for i := range records {
		dp, err := records[i].toDatapoint()
		if err != nil {
			return nil, fmt.Errorf("dictionary entry %d: %w", i, err)
		}
		ds.datapoints = append(ds.datapoints, dp)
	}
	return ds, nil
}

// DefaultDataset loads the embedded 240 Vac dictionary.
func DefaultDataset() (*Dataset, error) {
	return DatasetForVoltage(Voltage240)
}

// DatasetForVoltage loads the embedded dictionary for the given grid
// voltage. The 120 Vac variant is the 240 Vac table with its overrides
// merged in.
func DatasetForVoltage(voltage Voltage) (*Dataset, error) {
	base, err := datapointFiles.Open("datapoints_240v.json")
	if err != nil {
		return nil, err
	}
	defer base.Close()

	ds, err := LoadDataset(base)
	if err != nil {
		return nil, err
	}

	if voltage == Voltage120 {
		f, err := datapointFiles.Open("datapoints_120v.json")
		if err != nil {
			return nil, err
		}
		defer f.Close()

		overrides, err := LoadDataset(f)
		if err != nil {
			return nil, err
		}
		ds.Merge(overrides)
	}

	return ds, nil
}

// Len returns the number of entries.
func (ds *Dataset) Len() int {
	return len(ds.datapoints)
}

// All returns the entries in dictionary order.
func (ds *Dataset) All() []*Datapoint {
	out := make([]*Datapoint, len(ds.datapoints))
	copy(out, ds.datapoints)
	return out
}

// GetByNr resolves a datapoint by number. An empty family matches any
// entry; otherwise both number and family must match.
func (ds *Dataset) GetByNr(nr uint32, familyID string) (*Datapoint, error) {
	for _, dp := range ds.datapoints {
		if dp.Nr == nr && (familyID == "" || dp.Family == familyID) {
			return dp, nil
		}
	}
	return nil, fmt.Errorf("%w: nr %d family %q", ErrDatapointUnknown, nr, familyID)
}

// GetByAbbr resolves a datapoint by its short name. An empty family matches
// any entry.
func (ds *Dataset) GetByAbbr(abbr string, familyID string) (*Datapoint, error) {
	for _, dp := range ds.datapoints {
		if dp.Abbr == abbr && (familyID == "" || dp.Family == familyID) {
			return dp, nil
		}
	}
	return nil, fmt.Errorf("%w: abbr %q family %q", ErrDatapointUnknown, abbr, familyID)
}

// GetMenuItems returns the child entries of a menu node, in dictionary
// order. Parent 0 is the root.
func (ds *Dataset) GetMenuItems(parent uint32, familyID string) []*Datapoint {
	var out []*Datapoint
	for _, dp := range ds.datapoints {
		if dp.Parent == parent && (familyID == "" || dp.Family == familyID) {
			out = append(out, dp)
		}
	}
	return out
}

// Merge replaces entries of the base dictionary with matching override
// entries, in place. An override matches on (nr, family); the base entry
// keeps its position so menu ordering survives the merge. Overrides without
// a matching base entry are appended.
func (ds *Dataset) Merge(overrides *Dataset) {
	for _, over := range overrides.datapoints {
		replaced := false
		for i, base := range ds.datapoints {
			if base.Nr == over.Nr && base.Family == over.Family {
				ds.datapoints[i] = over
				replaced = true
				break
			}
		}
		if !replaced {
			ds.datapoints = append(ds.datapoints, over)
		}
	}
}
