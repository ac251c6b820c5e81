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
	"fmt"
	"strings"
)

// DeviceFamily describes a class of devices sharing an address range and a
// datapoint number range.
type DeviceFamily struct {
	// ID is the short family identifier ("xt", "bsp", ...).
	ID string

	// IDForNr is the family whose datapoint numbering this family shares.
	// The phase pseudo-families (l1, l2, l3) address individual Xtender
	// phases but resolve numbers through the xt dictionary entries.
	IDForNr string

	// Model is the marketing name of the family.
	Model string

	// AddrMulticast addresses all devices of the family at once. Multicast
	// requests are write only.
	AddrMulticast uint32

	// AddrDevicesStart and AddrDevicesEnd bound the per-device addresses.
	AddrDevicesStart uint32
	AddrDevicesEnd   uint32

	// NrParamsStart/End and NrInfosStart/End bound the datapoint numbers
	// owned by this family.
	NrParamsStart uint32
	NrParamsEnd   uint32
	NrInfosStart  uint32
	NrInfosEnd    uint32

	// NrDiscover is the datapoint probed to test whether a device at a
	// candidate address exists.
	NrDiscover uint32

	// NrDefaults are the datapoints a freshly discovered device is
	// typically polled for.
	NrDefaults []uint32
}

// Code maps a device address to its short display code. The multicast
// address and a sole device address both yield the bare family code; in a
// multi-device family each device gets a 1-based index suffix.
func (f *DeviceFamily) Code(addr uint32) (string, error) {
	code := strings.ToUpper(f.ID)

	if addr == f.AddrMulticast {
		return code, nil
	}
	if f.AddrDevicesStart == addr && addr == f.AddrDevicesEnd {
		return code, nil
	}
	if f.AddrDevicesStart <= addr && addr <= f.AddrDevicesEnd {
		idx := addr - f.AddrDevicesStart + 1
		return fmt.Sprintf("%s%d", code, idx), nil
	}

	return "", fmt.Errorf("%w: addr %d not in %d-%d of family %s",
		ErrAddrOutOfRange, addr, f.AddrDevicesStart, f.AddrDevicesEnd, f.ID)
}

// OwnsNr reports whether the datapoint number falls in this family's
// parameter or info range.
func (f *DeviceFamily) OwnsNr(nr uint32) bool {
	if f.NrParamsStart <= nr && nr <= f.NrParamsEnd {
		return true
	}
	if f.NrInfosStart != 0 && f.NrInfosStart <= nr && nr <= f.NrInfosEnd {
		return true
	}
	return false
}

// The known device families of the Xcom bus. The numbers come from the
// published Studer parameter documentation.
var (
	FamilyXtender = DeviceFamily{
		ID: "xt", IDForNr: "xt", Model: "Xtender",
		AddrMulticast:    100,
		AddrDevicesStart: 101, AddrDevicesEnd: 115,
		NrParamsStart: 1000, NrParamsEnd: 1999,
		NrInfosStart: 3000, NrInfosEnd: 3999,
		NrDiscover: 3000,
		NrDefaults: []uint32{3020, 3028, 3031, 3032, 3049, 3078, 3081, 3083, 3101, 3104, 3119},
	}
	FamilyPhaseL1 = DeviceFamily{
		ID: "l1", IDForNr: "xt", Model: "Phase L1",
		AddrMulticast:    191,
		AddrDevicesStart: 191, AddrDevicesEnd: 191,
		NrParamsStart: 1000, NrParamsEnd: 1999,
		NrInfosStart: 3000, NrInfosEnd: 3999,
		NrDiscover: 3000,
	}
	FamilyPhaseL2 = DeviceFamily{
		ID: "l2", IDForNr: "xt", Model: "Phase L2",
		AddrMulticast:    192,
		AddrDevicesStart: 192, AddrDevicesEnd: 192,
		NrParamsStart: 1000, NrParamsEnd: 1999,
		NrInfosStart: 3000, NrInfosEnd: 3999,
		NrDiscover: 3000,
	}
	FamilyPhaseL3 = DeviceFamily{
		ID: "l3", IDForNr: "xt", Model: "Phase L3",
		AddrMulticast:    193,
		AddrDevicesStart: 193, AddrDevicesEnd: 193,
		NrParamsStart: 1000, NrParamsEnd: 1999,
		NrInfosStart: 3000, NrInfosEnd: 3999,
		NrDiscover: 3000,
	}
	FamilyRCC = DeviceFamily{
		ID: "rcc", IDForNr: "rcc", Model: "RCC or Xcom-LAN",
		AddrMulticast:    501,
		AddrDevicesStart: 501, AddrDevicesEnd: 501,
		NrParamsStart: 5000, NrParamsEnd: 5999,
		NrDiscover: 5002,
		NrDefaults: []uint32{5000},
	}
	FamilyBSP = DeviceFamily{
		ID: "bsp", IDForNr: "bsp", Model: "BSP",
		AddrMulticast:    600,
		AddrDevicesStart: 601, AddrDevicesEnd: 601,
		NrParamsStart: 6000, NrParamsEnd: 6999,
		NrInfosStart: 7000, NrInfosEnd: 7999,
		NrDiscover: 7036,
		NrDefaults: []uint32{7007, 7008, 7030, 7031, 7032, 7033},
	}
	FamilyBMS = DeviceFamily{
		ID: "bms", IDForNr: "bms", Model: "Xcom-CAN BMS",
		AddrMulticast:    600,
		AddrDevicesStart: 601, AddrDevicesEnd: 601,
		NrParamsStart: 6000, NrParamsEnd: 6999,
		NrInfosStart: 7000, NrInfosEnd: 7999,
		NrDiscover: 7054,
		NrDefaults: []uint32{7007, 7008, 7030, 7031, 7032, 7033},
	}
	FamilyVarioTrack = DeviceFamily{
		ID: "vt", IDForNr: "vt", Model: "VarioTrack",
		AddrMulticast:    300,
		AddrDevicesStart: 301, AddrDevicesEnd: 315,
		NrParamsStart: 10000, NrParamsEnd: 10999,
		NrInfosStart: 11000, NrInfosEnd: 11999,
		NrDiscover: 11000,
		NrDefaults: []uint32{11007, 11025, 11038, 11039, 11040, 11041, 11042, 11045, 11069},
	}
	FamilyVarioString = DeviceFamily{
		ID: "vs", IDForNr: "vs", Model: "VarioString",
		AddrMulticast:    700,
		AddrDevicesStart: 701, AddrDevicesEnd: 715,
		NrParamsStart: 14000, NrParamsEnd: 14999,
		NrInfosStart: 15000, NrInfosEnd: 15999,
		NrDiscover: 15000,
		NrDefaults: []uint32{15017, 15030, 15054, 15057, 15064, 15065, 15108},
	}
)

// families is ordered so that the broad Xtender device range wins address
// lookups before the single-address phase pseudo-families are considered.
var families = []*DeviceFamily{
	&FamilyXtender,
	&FamilyPhaseL1,
	&FamilyPhaseL2,
	&FamilyPhaseL3,
	&FamilyRCC,
	&FamilyBSP,
	&FamilyBMS,
	&FamilyVarioTrack,
	&FamilyVarioString,
}

// Families returns all known device families in declaration order.
func Families() []*DeviceFamily {
	out := make([]*DeviceFamily, len(families))
	copy(out, families)
	return out
}

// FamilyByID resolves a family by its short identifier.
func FamilyByID(id string) (*DeviceFamily, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, f := range families {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFamilyUnknown, id)
}

// FamilyForAddr resolves the family owning a device or multicast address.
func FamilyForAddr(addr uint32) (*DeviceFamily, error) {
	for _, f := range families {
		if addr == f.AddrMulticast {
			return f, nil
		}
		if f.AddrDevicesStart <= addr && addr <= f.AddrDevicesEnd {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: no family owns addr %d", ErrFamilyUnknown, addr)
}
