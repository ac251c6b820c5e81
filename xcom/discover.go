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
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DiscoveredDevice describes one device found on the bus.
type DiscoveredDevice struct {
	Code        string
	Addr        uint32
	FamilyID    string
	FamilyModel string

	// DeviceModel, HWVersion, SWVersion and FID are filled from extra
	// reads when the family's dictionary exposes them; empty otherwise.
	DeviceModel string
	HWVersion   string
	SWVersion   string
	FID         string
}

func (d *DiscoveredDevice) String() string {
	return fmt.Sprintf("%s (addr=%d, family=%s)", d.Code, d.Addr, d.FamilyID)
}

// Discover probes the bus for reachable devices. Each family's device
// addresses are tried in order with a read of the family's discovery
// datapoint; the first address that stays silent ends the scan for that
// family. Device addresses are assumed to be allocated densely from the
// start of the range, as the installation tooling does; a sparse setup
// with a gap hides the devices behind the gap from this scan.
func (s *Server) Discover(ctx context.Context, opts ...DiscoverOption) ([]*DiscoveredDevice, error) {
	options := defaultDiscoverOptions()
	for _, opt := range opts {
		opt(options)
	}

	if !s.Connected() {
		return nil, ErrNotConnected
	}

	var probe []*DeviceFamily
	if len(options.Families) == 0 {
		probe = Families()
	} else {
		for _, id := range options.Families {
			f, err := FamilyByID(id)
			if err != nil {
				return nil, err
			}
			probe = append(probe, f)
		}
	}

	var devices []*DiscoveredDevice
	for _, family := range probe {
		found, err := s.discoverFamily(ctx, family, options)
		if err != nil {
			return devices, err
		}
		devices = append(devices, found...)
	}

	s.logger.Info("discovery finished", slog.Int("devices", len(devices)))
	return devices, nil
}

func (s *Server) discoverFamily(ctx context.Context, family *DeviceFamily, options *DiscoverOptions) ([]*DiscoveredDevice, error) {
	dp, err := s.discoveryDatapoint(family)
	if err != nil {
		s.logger.Debug("family has no probeable datapoint", slog.String("family", family.ID))
		return nil, nil
	}

	var devices []*DiscoveredDevice
	for addr := family.AddrDevicesStart; addr <= family.AddrDevicesEnd; addr++ {
		if err := ctx.Err(); err != nil {
			return devices, err
		}

		s.metrics.ProbesSent.Inc()
		probeCtx, cancel := context.WithTimeout(ctx, options.Timeout)
		value, err := s.RequestValue(probeCtx, dp, addr)
		cancel()

		if err != nil {
			if errors.Is(err, ErrNotConnected) {
				return devices, err
			}
			// Silent address: end of this family's allocation.
			s.logger.Debug("no device",
				slog.String("family", family.ID),
				slog.Uint64("addr", uint64(addr)),
			)
			break
		}

		code, err := family.Code(addr)
		if err != nil {
			return devices, err
		}

		device := &DiscoveredDevice{
			Code:        code,
			Addr:        addr,
			FamilyID:    family.ID,
			FamilyModel: family.Model,
			DeviceModel: deviceModel(family, dp, value),
		}
		s.enrichDevice(ctx, family, device, options)
		devices = append(devices, device)
		s.metrics.DevicesDiscovered.Inc()

		s.logger.Info("device discovered",
			slog.String("code", device.Code),
			slog.Uint64("addr", uint64(addr)),
			slog.String("family", family.ID),
		)
	}
	return devices, nil
}

// discoveryDatapoint picks the datapoint a family is probed with: the
// designated discovery number, else the first info, else the first param.
func (s *Server) discoveryDatapoint(family *DeviceFamily) (*Datapoint, error) {
	if dp, err := s.opts.dataset.GetByNr(family.NrDiscover, family.IDForNr); err == nil {
		return dp, nil
	}
	for _, dp := range s.opts.dataset.All() {
		if dp.Family != family.IDForNr || dp.Format == FormatMenu {
			continue
		}
		if family.NrInfosStart != 0 && family.NrInfosStart <= dp.Nr && dp.Nr <= family.NrInfosEnd {
			return dp, nil
		}
	}
	for _, dp := range s.opts.dataset.All() {
		if dp.Family != family.IDForNr || dp.Format == FormatMenu {
			continue
		}
		if family.NrParamsStart <= dp.Nr && dp.Nr <= family.NrParamsEnd {
			return dp, nil
		}
	}
	return nil, fmt.Errorf("%w: family %s has no datapoints", ErrDatapointUnknown, family.ID)
}

// enrichDevice fills the optional identity fields from the device's ID
// infos, when the dictionary carries them for this family. Every read is
// best effort; a failing read leaves its field empty.
func (s *Server) enrichDevice(ctx context.Context, family *DeviceFamily, dev *DiscoveredDevice, options *DiscoverOptions) {
	if v, ok := s.readIdentity(ctx, family, "id_hw", dev.Addr, options); ok {
		dev.HWVersion = hardwareVersion(v)
	}
	msb, okMsb := s.readIdentity(ctx, family, "id_soft_msb", dev.Addr, options)
	lsb, okLsb := s.readIdentity(ctx, family, "id_soft_lsb", dev.Addr, options)
	if okMsb && okLsb {
		dev.SWVersion = softwareVersion(msb, lsb)
	}
	if v, ok := s.readIdentity(ctx, family, "id_fid", dev.Addr, options); ok {
		dev.FID = fmt.Sprintf("%08X", uint32(v))
	}
}

func (s *Server) readIdentity(ctx context.Context, family *DeviceFamily, abbr string, addr uint32, options *DiscoverOptions) (float64, bool) {
	dp, err := s.opts.dataset.GetByAbbr(abbr, family.IDForNr)
	if err != nil {
		return 0, false
	}

	readCtx, cancel := context.WithTimeout(ctx, options.Timeout)
	value, err := s.RequestValue(readCtx, dp, addr)
	cancel()
	if err != nil {
		return 0, false
	}

	f, err := asFloat64(value)
	if err != nil {
		return 0, false
	}
	return f, true
}

// The ID infos pack two version digits per 16-bit word, one digit per byte.
func hardwareVersion(v float64) string {
	n := uint32(v)
	return fmt.Sprintf("V%d.%d", n>>8, n&0xFF)
}

func softwareVersion(msb, lsb float64) string {
	return fmt.Sprintf("V%d.%d.%d", uint32(msb)>>8, uint32(lsb)>>8, uint32(lsb)&0xFF)
}

// deviceModel derives a model designation from the probe response when the
// probed datapoint is the family's numeric ID type.
func deviceModel(family *DeviceFamily, dp *Datapoint, value interface{}) string {
	if dp.Abbr != "id_type" && dp.Abbr != "bsp_id_type" {
		return ""
	}
	f, ok := value.(float32)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s %d", family.Model, int64(f))
}
