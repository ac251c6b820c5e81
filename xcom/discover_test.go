package xcom

import "testing"

func TestVersionFormatting(t *testing.T) {
	// 0x0105 packs V1.5, one digit per byte.
	if got := hardwareVersion(float64(0x0105)); got != "V1.5" {
		t.Errorf("hardwareVersion = %q, want V1.5", got)
	}
	// msb 0x0100, lsb 0x0602 pack V1.6.2.
	if got := softwareVersion(float64(0x0100), float64(0x0602)); got != "V1.6.2" {
		t.Errorf("softwareVersion = %q, want V1.6.2", got)
	}
}

func TestDeviceModelFromIDType(t *testing.T) {
	dp := &Datapoint{Abbr: "id_type", Format: FormatFloat}
	if got := deviceModel(&FamilyXtender, dp, float32(1)); got != "Xtender 1" {
		t.Errorf("deviceModel = %q, want Xtender 1", got)
	}

	// A probe that is not an ID type yields no model.
	plain := &Datapoint{Abbr: "bat_voltage", Format: FormatFloat}
	if got := deviceModel(&FamilyXtender, plain, float32(48.5)); got != "" {
		t.Errorf("deviceModel = %q, want empty", got)
	}
}
