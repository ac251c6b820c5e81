package xcom

import (
	"bytes"
	"errors"
	"testing"
)

func testRequest() *Package {
	return NewRequest(ServiceRead, ObjectTypeInfo, 3000, PropertyValue, nil, AddrSource, 101)
}

func TestPackageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkg  *Package
	}{
		{"read request", testRequest()},
		{"write request", NewRequest(ServiceWrite, ObjectTypeParameter, 1107, PropertyUnsavedValue,
			[]byte{0x00, 0x00, 0x40, 0x41}, AddrSource, 100)},
		{"multi info", NewRequest(ServiceRead, ObjectTypeMultiInfo, 3000, PropertyValue,
			[]byte{byte(AggregationAverage)}, AddrSource, AddrBroadcast)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.pkg.Assemble()

			got, err := ParsePackage(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ParsePackage() error = %v", err)
			}

			if *got.Header != *tt.pkg.Header {
				t.Errorf("header = %+v, want %+v", got.Header, tt.pkg.Header)
			}
			if got.Frame.ServiceID != tt.pkg.Frame.ServiceID ||
				got.Frame.ObjectType != tt.pkg.Frame.ObjectType ||
				got.Frame.ObjectID != tt.pkg.Frame.ObjectID ||
				got.Frame.PropertyID != tt.pkg.Frame.PropertyID {
				t.Errorf("frame = %+v, want %+v", got.Frame, tt.pkg.Frame)
			}
			if !bytes.Equal(got.Frame.PropertyData, tt.pkg.Frame.PropertyData) {
				t.Errorf("payload = %x, want %x", got.Frame.PropertyData, tt.pkg.Frame.PropertyData)
			}
		})
	}
}

func TestPackageHeaderLengthInvariant(t *testing.T) {
	pkg := NewRequest(ServiceWrite, ObjectTypeParameter, 1107, PropertyUnsavedValue,
		[]byte{1, 2, 3, 4}, AddrSource, 100)

	if want := uint16(pkg.Frame.EncodedLength()); pkg.Header.DataLength != want {
		t.Errorf("DataLength = %d, want %d", pkg.Header.DataLength, want)
	}
}

func TestParsePackageResync(t *testing.T) {
	data := testRequest().Assemble()

	garbage := []byte{0x00, 0xFF, 0x12, 0x34, 0xAB}
	stream := append(garbage, data...)

	got, err := ParsePackage(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("ParsePackage() error = %v", err)
	}
	if got.Frame.ObjectID != 3000 {
		t.Errorf("object id = %d, want 3000", got.Frame.ObjectID)
	}
}

func TestParsePackageChecksumTamper(t *testing.T) {
	data := testRequest().Assemble()

	// Corrupt each byte of the header and frame sections in turn. The
	// start byte itself is skipped: corrupting it desynchronizes the
	// stream, which is a different failure (short read), not a silent
	// misparse.
	for i := 1; i < len(data); i++ {
		tampered := make([]byte, len(data))
		copy(tampered, data)
		tampered[i] ^= 0x5A

		if _, err := ParsePackage(bytes.NewReader(tampered)); err == nil {
			t.Errorf("ParsePackage() accepted package with byte %d corrupted", i)
		}
	}
}

func TestParsePackageTruncated(t *testing.T) {
	data := testRequest().Assemble()

	for cut := 1; cut < len(data); cut++ {
		if _, err := ParsePackage(bytes.NewReader(data[:cut])); !errors.Is(err, ErrRead) {
			t.Errorf("ParsePackage() with %d bytes: error = %v, want ErrRead", cut, err)
		}
	}
}

func TestPackageResponseFlags(t *testing.T) {
	pkg := testRequest()
	if pkg.IsResponse() {
		t.Error("fresh request claims to be a response")
	}
	if pkg.IsError() {
		t.Error("fresh request claims to be an error")
	}

	pkg.Frame.Flags |= frameFlagResponse
	if !pkg.IsResponse() {
		t.Error("response flag not detected")
	}

	pkg.Frame.Flags |= frameFlagError
	pkg.Frame.PropertyData = []byte{0x13, 0x00}
	if !pkg.IsError() {
		t.Error("error flag not detected")
	}
	if got := pkg.ErrorCode(); got != ErrorCodeGatewayBusy {
		t.Errorf("ErrorCode() = %v, want gateway-busy", got)
	}
}

func TestErrorCodeStrings(t *testing.T) {
	if got := ErrorCodeGatewayBusy.String(); got != "gateway-busy" {
		t.Errorf("gateway busy = %q", got)
	}
	if got := ErrorCode(0xBEEF).String(); got != "unknown-error(0xbeef)" {
		t.Errorf("unknown code = %q", got)
	}
}
