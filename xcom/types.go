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

// Package xcom implements the Studer Xcom serial protocol as spoken over a
// TCP link to an Xcom-LAN (Moxa) gateway. The gateway dials into this
// process; once connected, datapoint values can be read from and written to
// the devices behind it.
package xcom

import (
	"fmt"
	"strings"
)

// DefaultPort is the TCP port the Moxa gateway is configured to dial.
const DefaultPort = 4001

// AddrBroadcast addresses all devices on the Xcom bus.
const AddrBroadcast = 0

// AddrSource is the bus address this process claims in request headers.
const AddrSource = 1

// ServiceID selects the operation carried by a frame.
type ServiceID uint8

const (
	ServiceRead  ServiceID = 0x01
	ServiceWrite ServiceID = 0x02
)

func (s ServiceID) String() string {
	switch s {
	case ServiceRead:
		return "read"
	case ServiceWrite:
		return "write"
	default:
		return fmt.Sprintf("service(0x%02x)", uint8(s))
	}
}

// ObjectType is the 2-byte wire tag identifying the kind of entity a request
// concerns. Values are chosen so that little-endian encoding reproduces the
// byte pairs of the Studer specification (INFO is 0x01 0x00 on the wire).
type ObjectType uint16

const (
	ObjectTypeMultiInfo ObjectType = 0x0A00
	ObjectTypeInfo      ObjectType = 0x0001
	ObjectTypeParameter ObjectType = 0x0002
	ObjectTypeMessage   ObjectType = 0x0003
	ObjectTypeGUID      ObjectType = 0x0004
	ObjectTypeDatalog   ObjectType = 0x0005
)

func (o ObjectType) String() string {
	names := map[ObjectType]string{
		ObjectTypeMultiInfo: "multi-info",
		ObjectTypeInfo:      "info",
		ObjectTypeParameter: "parameter",
		ObjectTypeMessage:   "message",
		ObjectTypeGUID:      "guid",
		ObjectTypeDatalog:   "datalog",
	}
	if name, ok := names[o]; ok {
		return name
	}
	return fmt.Sprintf("object-type(0x%04x)", uint16(o))
}

// PropertyID is the 2-byte wire tag selecting which property of an object a
// request reads or writes.
type PropertyID uint16

const (
	PropertyValue        PropertyID = 0x0005
	PropertyMin          PropertyID = 0x0006
	PropertyMax          PropertyID = 0x0007
	PropertyLevel        PropertyID = 0x0008
	PropertyUnsavedValue PropertyID = 0x000D // volatile RAM value, not persisted to flash
)

func (p PropertyID) String() string {
	names := map[PropertyID]string{
		PropertyValue:        "value",
		PropertyMin:          "min",
		PropertyMax:          "max",
		PropertyLevel:        "level",
		PropertyUnsavedValue: "unsaved-value",
	}
	if name, ok := names[p]; ok {
		return name
	}
	return fmt.Sprintf("property(0x%04x)", uint16(p))
}

// Format identifies the binary encoding of a datapoint value.
type Format uint8

const (
	FormatInvalid Format = iota
	FormatBool           // 1 byte
	FormatFormat         // 2 bytes, unsigned LE
	FormatShortEnum      // 2 bytes, unsigned LE
	FormatError          // 2 bytes, unsigned LE
	FormatInt32          // 4 bytes, signed LE
	FormatFloat          // 4 bytes, IEEE-754 LE
	FormatLongEnum       // 4 bytes, unsigned LE
	FormatString         // n bytes, ISO-8859-15
	FormatDynamic        // n bytes
	FormatBytes          // n bytes
	FormatMenu           // not a value; marks a menu node in the dictionary
)

func (f Format) String() string {
	switch f {
	case FormatBool:
		return "BOOL"
	case FormatFormat:
		return "FORMAT"
	case FormatShortEnum:
		return "SHORT_ENUM"
	case FormatError:
		return "ERROR"
	case FormatInt32:
		return "INT32"
	case FormatFloat:
		return "FLOAT"
	case FormatLongEnum:
		return "LONG_ENUM"
	case FormatString:
		return "STRING"
	case FormatDynamic:
		return "DYNAMIC"
	case FormatBytes:
		return "BYTES"
	case FormatMenu:
		return "MENU"
	case FormatInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat maps the spellings used by the published datapoint dictionary
// onto a Format tag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOOL":
		return FormatBool, nil
	case "FORMAT":
		return FormatFormat, nil
	case "SHORT_ENUM", "SHORT ENUM":
		return FormatShortEnum, nil
	case "ERROR":
		return FormatError, nil
	case "INT32":
		return FormatInt32, nil
	case "FLOAT":
		return FormatFloat, nil
	case "LONG_ENUM", "LONG ENUM":
		return FormatLongEnum, nil
	case "STRING":
		return FormatString, nil
	case "DYNAMIC":
		return FormatDynamic, nil
	case "BYTES":
		return FormatBytes, nil
	case "MENU", "ONLY_LEVEL", "ONLY LEVEL":
		return FormatMenu, nil
	case "NOT SUPPORTED":
		return FormatInvalid, nil
	default:
		return FormatInvalid, fmt.Errorf("unknown format %q", s)
	}
}

// Level is the user access level of a datapoint. It doubles as the category
// selector: INFO-level datapoints are read-only telemetry, the BASIC..QSP
// levels mark writable parameters, and VIEW_ONLY marks a parameter that may
// only be read.
type Level uint16

const (
	LevelInfo      Level = 0x0000
	LevelBasic     Level = 0x0010
	LevelExpert    Level = 0x0020
	LevelInstaller Level = 0x0030
	LevelQSP       Level = 0x0040
	LevelViewOnly  Level = 0xFFFF
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelBasic:
		return "BASIC"
	case LevelExpert:
		return "EXPERT"
	case LevelInstaller:
		return "INST"
	case LevelQSP:
		return "QSP"
	case LevelViewOnly:
		return "V.O."
	default:
		return fmt.Sprintf("level(0x%04x)", uint16(l))
	}
}

// ParseLevel maps the dictionary spellings onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "BASIC":
		return LevelBasic, nil
	case "EXPERT":
		return LevelExpert, nil
	case "INST", "INST.":
		return LevelInstaller, nil
	case "QSP":
		return LevelQSP, nil
	case "VO", "V.O.":
		return LevelViewOnly, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

// ObjectType derives the wire object type from the access level. Anything
// that is not a writable parameter is addressed as info.
func (l Level) ObjectType() ObjectType {
	switch l {
	case LevelBasic, LevelExpert, LevelInstaller, LevelQSP:
		return ObjectTypeParameter
	default:
		return ObjectTypeInfo
	}
}

// Writable reports whether a datapoint at this level may be written.
func (l Level) Writable() bool {
	return l.ObjectType() == ObjectTypeParameter
}

// AggregationType selects how a multi-info read aggregates values across the
// devices of a multi-device installation.
type AggregationType uint8

const (
	AggregationMaster  AggregationType = 0x00
	AggregationDevice1 AggregationType = 0x01
	AggregationAverage AggregationType = 0xFD
	AggregationSum     AggregationType = 0xFE
)
