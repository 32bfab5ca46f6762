package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultUSBRoot = "/sys/bus/usb/devices"

// usbDevice is one USB device directory under sysfs.
type usbDevice struct {
	path         string
	vendorID     string
	productID    string
	manufacturer string
	product      string
	serial       string
	authorized   bool
}

func (d usbDevice) id() string {
	if d.serial != "" {
		return fmt.Sprintf("usb:%s:%s:%s", d.vendorID, d.productID, d.serial)
	}
	return fmt.Sprintf("usb:%s:%s@%s", d.vendorID, d.productID, d.path)
}

func (d usbDevice) displayName() string {
	return strings.TrimSpace(d.manufacturer + " " + d.product)
}

func (d usbDevice) info() Info {
	return Info{ID: d.id(), DisplayName: d.displayName(), Source: SourceUSB}
}

// readUSBDevices lists devices under root. Interface entries ("1-1:1.0") and
// entries without a vendor id are skipped. A missing root yields no devices.
func readUSBDevices(root string) ([]usbDevice, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []usbDevice
	for _, entry := range entries {
		if d, ok := readUSBDevice(filepath.Join(root, entry.Name())); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// readUSBDevice reads the sysfs attributes of one USB device directory.
func readUSBDevice(dir string) (usbDevice, bool) {
	name := filepath.Base(dir)
	if strings.Contains(name, ":") {
		return usbDevice{}, false
	}
	vendor := readSysfsAttr(dir, "idVendor")
	if vendor == "" {
		return usbDevice{}, false
	}
	return usbDevice{
		path:         name,
		vendorID:     vendor,
		productID:    readSysfsAttr(dir, "idProduct"),
		manufacturer: readSysfsAttr(dir, "manufacturer"),
		product:      readSysfsAttr(dir, "product"),
		serial:       readSysfsAttr(dir, "serial"),
		authorized:   readSysfsAttr(dir, "authorized") != "0",
	}, true
}

// usbParent resolves a block device such as /dev/sdb1 through blockRoot
// (normally /sys/class/block) and walks up the device path to the USB
// device it hangs off.
func usbParent(blockRoot, dev string) (usbDevice, bool) {
	if blockRoot == "" || !strings.HasPrefix(dev, "/dev/") {
		return usbDevice{}, false
	}
	dir, err := filepath.EvalSymlinks(filepath.Join(blockRoot, filepath.Base(dev)))
	if err != nil {
		return usbDevice{}, false
	}
	for {
		if d, ok := readUSBDevice(dir); ok {
			return d, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return usbDevice{}, false
		}
		dir = parent
	}
}
