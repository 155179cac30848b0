package wujihand

import "fmt"

// FirmwareVersion is a device firmware revision. The wire encoding
// packs major in the low byte, then minor, patch and an optional
// pre-release letter in the high byte.
type FirmwareVersion struct {
	Major byte
	Minor byte
	Patch byte
	Pre   byte // 0 when absent
}

// Version constructs a FirmwareVersion for comparisons.
func Version(major, minor, patch byte, pre byte) FirmwareVersion {
	return FirmwareVersion{Major: major, Minor: minor, Patch: patch, Pre: pre}
}

// firmwareVersionFromRaw unpacks the wire representation.
func firmwareVersionFromRaw(raw uint32) FirmwareVersion {
	return FirmwareVersion{
		Major: byte(raw),
		Minor: byte(raw >> 8),
		Patch: byte(raw >> 16),
		Pre:   byte(raw >> 24),
	}
}

// Less orders versions by major, minor, patch, then pre-release letter.
func (v FirmwareVersion) Less(other FirmwareVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	if v.Patch != other.Patch {
		return v.Patch < other.Patch
	}
	return v.Pre < other.Pre
}

// AtLeast reports whether v is the same as or newer than other.
func (v FirmwareVersion) AtLeast(other FirmwareVersion) bool {
	return !v.Less(other)
}

func (v FirmwareVersion) String() string {
	if v.Pre != 0 {
		return fmt.Sprintf("%d.%d.%d%c", v.Major, v.Minor, v.Patch, v.Pre)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Firmware gates for optional device features.
var (
	minHandFirmware     = Version(3, 0, 0, 0)
	minFullSystemReport = Version(3, 1, 0, 'D')
	minDirectRPDO       = Version(3, 2, 0, 'B')
	minFirmwareFilter   = Version(6, 4, 0, 'J') // joint firmware
	minEffortFeedback   = Version(1, 2, 0, 0)   // full-system firmware
)
