package transports

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"
)

// DeviceInfo describes one USB serial device found by Scan.
type DeviceInfo struct {
	Port         string
	VID          uint16
	PID          uint16
	SerialNumber string
}

// ScanConfig filters USB discovery. Zero values match everything except
// VID, which is required.
type ScanConfig struct {
	VID          uint16
	PID          uint16
	SerialNumber string
}

// Scan lists serial ports whose USB identity matches the filter.
func Scan(cfg ScanConfig) ([]DeviceInfo, error) {
	if cfg.VID == 0 {
		return nil, fmt.Errorf("scan requires a vendor id")
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("port enumeration failed: %w", err)
	}
	var found []DeviceInfo
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		info, ok := matchPort(p.Name, p.VID, p.PID, p.SerialNumber, cfg)
		if ok {
			found = append(found, info)
		}
	}
	return found, nil
}

// matchPort applies the filter to one enumerated port. VID and PID
// arrive as hex strings from the platform enumerator.
func matchPort(name, vidStr, pidStr, serialNumber string, cfg ScanConfig) (DeviceInfo, bool) {
	vid, err := strconv.ParseUint(strings.TrimPrefix(vidStr, "0x"), 16, 16)
	if err != nil || uint16(vid) != cfg.VID {
		return DeviceInfo{}, false
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(pidStr, "0x"), 16, 16)
	if err != nil {
		return DeviceInfo{}, false
	}
	if cfg.PID != 0 && uint16(pid) != cfg.PID {
		return DeviceInfo{}, false
	}
	if cfg.SerialNumber != "" && serialNumber != cfg.SerialNumber {
		return DeviceInfo{}, false
	}
	return DeviceInfo{
		Port:         name,
		VID:          uint16(vid),
		PID:          uint16(pid),
		SerialNumber: serialNumber,
	}, true
}
