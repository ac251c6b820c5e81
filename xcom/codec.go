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
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// Unpack decodes a property payload according to the datapoint format.
// The payload length must match the format exactly; a mismatch is reported
// as ErrUnpack rather than truncated or zero-padded.
func Unpack(data []byte, f Format) (interface{}, error) {
	switch f {
	case FormatBool:
		if len(data) != 1 {
			return nil, fmt.Errorf("%w: %s needs 1 byte, got %d", ErrUnpack, f, len(data))
		}
		return data[0] != 0, nil

	case FormatFormat, FormatShortEnum, FormatError:
		if len(data) != 2 {
			return nil, fmt.Errorf("%w: %s needs 2 bytes, got %d", ErrUnpack, f, len(data))
		}
		return binary.LittleEndian.Uint16(data), nil

	case FormatInt32:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: %s needs 4 bytes, got %d", ErrUnpack, f, len(data))
		}
		return int32(binary.LittleEndian.Uint32(data)), nil

	case FormatFloat:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: %s needs 4 bytes, got %d", ErrUnpack, f, len(data))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil

	case FormatLongEnum:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: %s needs 4 bytes, got %d", ErrUnpack, f, len(data))
		}
		return binary.LittleEndian.Uint32(data), nil

	case FormatString, FormatDynamic:
		s, err := charmap.ISO8859_15.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode ISO-8859-15: %v", ErrUnpack, err)
		}
		return string(s), nil

	case FormatBytes:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: format %s carries no value", ErrUnpack, f)
	}
}

// Pack encodes a value according to the datapoint format. It is the inverse
// of Unpack. Besides the exact types Unpack produces, it accepts the numeric
// conversions a caller working from parsed user input needs (float64 for any
// numeric format, int for the integer formats, bool 0/1 for enums).
func Pack(value interface{}, f Format) ([]byte, error) {
	switch f {
	case FormatBool:
		b, err := asBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnpack, f, err)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case FormatFormat, FormatShortEnum, FormatError:
		n, err := asUint64(value)
		if err != nil || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %s wants uint16, got %v", ErrUnpack, f, value)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(n))
		return buf, nil

	case FormatInt32:
		n, err := asInt64(value)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %s wants int32, got %v", ErrUnpack, f, value)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
		return buf, nil

	case FormatFloat:
		g, err := asFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants float, got %v", ErrUnpack, f, value)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(g)))
		return buf, nil

	case FormatLongEnum:
		n, err := asUint64(value)
		if err != nil || n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s wants uint32, got %v", ErrUnpack, f, value)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return buf, nil

	case FormatString, FormatDynamic:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrUnpack, f, value)
		}
		out, err := charmap.ISO8859_15.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: encode ISO-8859-15: %v", ErrUnpack, err)
		}
		return out, nil

	case FormatBytes:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants []byte, got %T", ErrUnpack, f, value)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: format %s carries no value", ErrUnpack, f)
	}
}

// Checksum computes the two-accumulator running sum used to protect the
// header and frame sections. A is seeded with 0xFF, B with 0x00; the result
// is emitted A first, then B.
func Checksum(data []byte) [2]byte {
	a := uint8(0xFF)
	b := uint8(0x00)
	for _, d := range data {
		a += d
		b += a
	}
	return [2]byte{a, b}
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("want bool, got %T", value)
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int32:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("not an unsigned integer: %v", v)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("want unsigned integer, got %T", value)
	}
}

func asInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("want integer, got %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("want float, got %T", value)
	}
}
