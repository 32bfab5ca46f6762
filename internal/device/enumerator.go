package device

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/stream"
)

// Enumerator lists the devices of one subsystem. Returned Info values carry
// ID, DisplayName and Source; classification is applied by the caller.
type Enumerator interface {
	Name() string
	Enumerate(ctx context.Context) ([]Info, error)
}

// Inventory runs every enumerator, classifies the devices and merges them by
// id. A failing enumerator is reported in errs and the rest still run.
func Inventory(ctx context.Context, enumerators []Enumerator, c *Classifier) (devices []Info, errs []error) {
	byID := make(map[string]Info)
	for _, e := range enumerators {
		if err := ctx.Err(); err != nil {
			return nil, append(errs, err)
		}
		found, err := e.Enumerate(ctx)
		if err != nil {
			errs = append(errs, errors.New(err).
				Component("device").
				Category(errors.CategoryEnumeration).
				Context("enumerator", e.Name()).
				Build())
			continue
		}
		for _, d := range found {
			if d.ID == "" {
				continue
			}
			d.Classification = c.Classify(d.DisplayName)
			byID[d.ID] = d
		}
	}

	for _, id := range slices.Sorted(maps.Keys(byID)) {
		devices = append(devices, byID[id])
	}
	return devices, errs
}

// AudioEnumerator lists capture devices through miniaudio.
type AudioEnumerator struct {
	list func() ([]stream.CaptureDevice, error)
}

// NewAudioEnumerator enumerates the system's microphones.
func NewAudioEnumerator() *AudioEnumerator {
	return &AudioEnumerator{list: stream.CaptureDevices}
}

func (e *AudioEnumerator) Name() string { return string(SourceAudio) }

func (e *AudioEnumerator) Enumerate(context.Context) ([]Info, error) {
	devices, err := e.list()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(devices))
	for _, d := range devices {
		id := d.ID
		if id == "" {
			id = d.Name
		}
		out = append(out, Info{ID: "audio:" + id, DisplayName: d.Name, Source: SourceAudio})
	}
	return out, nil
}

// VideoEnumerator lists V4L2 capture devices from sysfs.
type VideoEnumerator struct {
	Root string
}

// NewVideoEnumerator reads /sys/class/video4linux.
func NewVideoEnumerator() *VideoEnumerator {
	return &VideoEnumerator{Root: "/sys/class/video4linux"}
}

func (e *VideoEnumerator) Name() string { return string(SourceVideo) }

func (e *VideoEnumerator) Enumerate(context.Context) ([]Info, error) {
	entries, err := os.ReadDir(e.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Info
	for _, entry := range entries {
		name := readSysfsAttr(filepath.Join(e.Root, entry.Name()), "name")
		out = append(out, Info{
			ID:          fmt.Sprintf("video:%s:%s", entry.Name(), name),
			DisplayName: name,
			Source:      SourceVideo,
		})
	}
	return out, nil
}

// USBEnumerator lists USB devices from sysfs.
type USBEnumerator struct {
	Root string
}

// NewUSBEnumerator reads root, normally /sys/bus/usb/devices.
func NewUSBEnumerator(root string) *USBEnumerator {
	if root == "" {
		root = defaultUSBRoot
	}
	return &USBEnumerator{Root: root}
}

func (e *USBEnumerator) Name() string { return string(SourceUSB) }

func (e *USBEnumerator) Enumerate(context.Context) ([]Info, error) {
	devices, err := readUSBDevices(e.Root)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.info())
	}
	return out, nil
}

// removableMountPrefixes are where desktops mount removable media.
var removableMountPrefixes = []string{"/media/", "/run/media/", "/mnt/", "/Volumes/"}

const defaultBlockRoot = "/sys/class/block"

// PartitionEnumerator lists mounted partitions that look removable. A
// partition on a USB device carries that device's id as Parent.
type PartitionEnumerator struct {
	BlockRoot  string
	partitions func(all bool) ([]disk.PartitionStat, error)
}

// NewPartitionEnumerator enumerates mounted partitions through gopsutil.
func NewPartitionEnumerator() *PartitionEnumerator {
	return &PartitionEnumerator{BlockRoot: defaultBlockRoot, partitions: disk.Partitions}
}

func (e *PartitionEnumerator) Name() string { return string(SourcePartition) }

func (e *PartitionEnumerator) Enumerate(context.Context) ([]Info, error) {
	parts, err := e.partitions(false)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, p := range parts {
		if !isRemovableMount(p) {
			continue
		}
		info := Info{
			ID:          "partition:" + p.Device,
			DisplayName: fmt.Sprintf("%s disk mounted at %s", p.Fstype, p.Mountpoint),
			Source:      SourcePartition,
		}
		if parent, ok := usbParent(e.BlockRoot, p.Device); ok {
			info.Parent = parent.id()
		}
		out = append(out, info)
	}
	return out, nil
}

func isRemovableMount(p disk.PartitionStat) bool {
	for _, prefix := range removableMountPrefixes {
		if strings.HasPrefix(p.Mountpoint, prefix) {
			return true
		}
	}
	// Windows drive letters other than the system drive
	if len(p.Mountpoint) >= 2 && p.Mountpoint[1] == ':' && !strings.EqualFold(p.Mountpoint[:1], "C") {
		return slices.Contains(p.Opts, "removable") || strings.EqualFold(p.Fstype, "FAT32") || strings.EqualFold(p.Fstype, "exFAT")
	}
	return false
}

func readSysfsAttr(dir, attr string) string {
	data, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
