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
	"io"
)

// StartByte opens every package on the wire.
const StartByte = 0xAA

// HeaderLength is the fixed encoded size of a Header (flags + src + dst + length).
const HeaderLength = 1 + 4 + 4 + 2

const (
	frameFlagError    = 0x01 // bit 0: the frame reports an error
	frameFlagResponse = 0x02 // bit 1: the frame answers a request
)

// Header is the outer layer of a package.
type Header struct {
	Flags      uint8
	SrcAddr    uint32
	DstAddr    uint32
	DataLength uint16
}

// Encode returns the 11-byte wire form of the header.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderLength)
	buf[0] = h.Flags
	binary.LittleEndian.PutUint32(buf[1:], h.SrcAddr)
	binary.LittleEndian.PutUint32(buf[5:], h.DstAddr)
	binary.LittleEndian.PutUint16(buf[9:], h.DataLength)
	return buf
}

// DecodeHeader parses an 11-byte header section.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) != HeaderLength {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrRead, HeaderLength, len(data))
	}
	return &Header{
		Flags:      data[0],
		SrcAddr:    binary.LittleEndian.Uint32(data[1:]),
		DstAddr:    binary.LittleEndian.Uint32(data[5:]),
		DataLength: binary.LittleEndian.Uint16(data[9:]),
	}, nil
}

// Frame is the inner layer of a package: the service wrapper plus the object
// reference triple and its property payload.
type Frame struct {
	Flags        uint8
	ServiceID    ServiceID
	ObjectType   ObjectType
	ObjectID     uint32
	PropertyID   PropertyID
	PropertyData []byte
}

// EncodedLength is the wire size of the frame, which a header's DataLength
// must equal.
func (f *Frame) EncodedLength() int {
	return 2 + 2 + 4 + 2 + len(f.PropertyData)
}

// Encode returns the wire form of the frame.
func (f *Frame) Encode() []byte {
	buf := make([]byte, 0, f.EncodedLength())
	buf = append(buf, f.Flags, byte(f.ServiceID))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.ObjectType))
	buf = binary.LittleEndian.AppendUint32(buf, f.ObjectID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.PropertyID))
	buf = append(buf, f.PropertyData...)
	return buf
}

// DecodeFrame parses a frame section of the given exact length.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("%w: frame needs at least 10 bytes, got %d", ErrRead, len(data))
	}
	f := &Frame{
		Flags:      data[0],
		ServiceID:  ServiceID(data[1]),
		ObjectType: ObjectType(binary.LittleEndian.Uint16(data[2:])),
		ObjectID:   binary.LittleEndian.Uint32(data[4:]),
		PropertyID: PropertyID(binary.LittleEndian.Uint16(data[8:])),
	}
	f.PropertyData = make([]byte, len(data)-10)
	copy(f.PropertyData, data[10:])
	return f, nil
}

// Package is one complete wire message.
type Package struct {
	Header *Header
	Frame  *Frame
}

// NewRequest builds a request package for the given object reference. The
// header's DataLength is derived from the frame so the invariant between the
// two layers holds by construction.
func NewRequest(service ServiceID, objType ObjectType, objectID uint32, property PropertyID, data []byte, srcAddr, dstAddr uint32) *Package {
	frame := &Frame{
		ServiceID:    service,
		ObjectType:   objType,
		ObjectID:     objectID,
		PropertyID:   property,
		PropertyData: data,
	}
	return &Package{
		Header: &Header{
			SrcAddr:    srcAddr,
			DstAddr:    dstAddr,
			DataLength: uint16(frame.EncodedLength()),
		},
		Frame: frame,
	}
}

// Assemble serializes the package: start byte, header, header checksum,
// frame, frame checksum.
func (p *Package) Assemble() []byte {
	header := p.Header.Encode()
	frame := p.Frame.Encode()

	buf := make([]byte, 0, 1+len(header)+2+len(frame)+2)
	buf = append(buf, StartByte)
	buf = append(buf, header...)
	sum := Checksum(header)
	buf = append(buf, sum[0], sum[1])
	buf = append(buf, frame...)
	sum = Checksum(frame)
	buf = append(buf, sum[0], sum[1])
	return buf
}

// IsResponse reports whether the frame answers a request.
func (p *Package) IsResponse() bool {
	return p.Frame.Flags&frameFlagResponse != 0
}

// IsError reports whether the frame carries an error code instead of a value.
func (p *Package) IsError() bool {
	return p.Frame.Flags&frameFlagError != 0
}

// ErrorCode returns the 2-byte error code of an error response frame.
func (p *Package) ErrorCode() ErrorCode {
	if !p.IsError() || len(p.Frame.PropertyData) < 2 {
		return ErrorCodeNone
	}
	return ErrorCode(binary.LittleEndian.Uint16(p.Frame.PropertyData))
}

func (p *Package) String() string {
	return fmt.Sprintf("package(src=%d dst=%d service=%s obj_type=%s obj_id=%d property=%s data=%d bytes)",
		p.Header.SrcAddr, p.Header.DstAddr, p.Frame.ServiceID, p.Frame.ObjectType,
		p.Frame.ObjectID, p.Frame.PropertyID, len(p.Frame.PropertyData))
}

// ParsePackage reads one package from the stream. The gateway is known to
// occasionally prefix noise bytes, so everything up to the start byte is
// discarded. A short read or a checksum mismatch on either section is a hard
// parse failure; the caller treats it as a read error for that attempt.
func ParsePackage(r io.Reader) (*Package, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("%w: scan for start byte: %w", ErrRead, err)
		}
		if b[0] == StartByte {
			break
		}
	}

	hRaw := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, hRaw); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrRead, err)
	}
	if err := verifyChecksum(r, hRaw, "header"); err != nil {
		return nil, err
	}
	header, err := DecodeHeader(hRaw)
	if err != nil {
		return nil, err
	}

	fRaw := make([]byte, header.DataLength)
	if _, err := io.ReadFull(r, fRaw); err != nil {
		return nil, fmt.Errorf("%w: read frame: %w", ErrRead, err)
	}
	if err := verifyChecksum(r, fRaw, "frame"); err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(fRaw)
	if err != nil {
		return nil, err
	}

	return &Package{Header: header, Frame: frame}, nil
}

func verifyChecksum(r io.Reader, section []byte, name string) error {
	var got [2]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return fmt.Errorf("%w: read %s checksum: %w", ErrRead, name, err)
	}
	if want := Checksum(section); got != want {
		return fmt.Errorf("%w: %s checksum mismatch: got %02x%02x, want %02x%02x",
			ErrRead, name, got[0], got[1], want[0], want[1])
	}
	return nil
}
