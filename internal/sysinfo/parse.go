package sysinfo

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/gpurig/gpurig/internal/model"
)

// pciVendorNVIDIA is the PCI vendor id of NVIDIA devices.
const pciVendorNVIDIA = "10de"

// ParsePCIDisplayDevices parses `lspci -vmmn` output and returns every
// display-class device (PCI class 03xx) found, in slot order. Indexes are
// assigned in encounter order, which matches the runtime device ordering.
func ParsePCIDisplayDevices(out []byte) []model.GPUDevice {
	var devices []model.GPUDevice

	for _, record := range bytes.Split(out, []byte("\n\n")) {
		fields := map[string]string{}

		scanner := bufio.NewScanner(bytes.NewReader(record))
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), ":")
			if !ok {
				continue
			}
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}

		if !strings.HasPrefix(fields["Class"], "03") {
			continue
		}
		if fields["Slot"] == "" {
			continue
		}

		model := fields["Vendor"]
		if fields["Device"] != "" {
			model = fields["Vendor"] + ":" + fields["Device"]
		}

		devices = append(devices, newGPUDevice(len(devices), fields["Slot"], fields["Vendor"], model))
	}

	return devices
}

func newGPUDevice(index int, slot, vendor, deviceModel string) model.GPUDevice {
	return model.GPUDevice{
		Index:      index,
		PCIAddress: slot,
		Vendor:     vendor,
		Model:      deviceModel,
	}
}

// FilterNVIDIA returns only the NVIDIA devices, reindexed from zero. Only
// these can be bound into sandboxes through the NVIDIA container runtime.
func FilterNVIDIA(devices []model.GPUDevice) []model.GPUDevice {
	var nvidia []model.GPUDevice
	for _, d := range devices {
		if d.Vendor != pciVendorNVIDIA {
			continue
		}
		d.Index = len(nvidia)
		nvidia = append(nvidia, d)
	}
	return nvidia
}

var nvidiaVersionRegexp = regexp.MustCompile(`Kernel Module\s+(\S+)`)

// ParseNVIDIADriverVersion extracts the driver version from
// /proc/driver/nvidia/version contents. Returns "" when not found.
func ParseNVIDIADriverVersion(contents []byte) string {
	m := nvidiaVersionRegexp.FindSubmatch(contents)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// ParseOSRelease extracts the distro id and version from /etc/os-release
// contents (e.g. "ubuntu", "22.04").
func ParseOSRelease(contents []byte) (id, version string) {
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = value
		}
	}
	return id, version
}
