//go:build linux

package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	evdev "github.com/holoplot/go-evdev"
)

// InputEnumerator lists evdev input devices (keyboards, mice, HID).
type InputEnumerator struct {
	Glob string
}

// NewInputEnumerator enumerates /dev/input/event*. It returns nil where evdev
// is unavailable.
func NewInputEnumerator() *InputEnumerator {
	return &InputEnumerator{Glob: "/dev/input/event*"}
}

func (e *InputEnumerator) Name() string { return string(SourceInput) }

// Enumerate opens each event node to read its identity. Nodes that cannot be
// opened are skipped; if none can be opened because of permissions the error
// is returned so the operator learns to add the user to the input group.
func (e *InputEnumerator) Enumerate(ctx context.Context) ([]Info, error) {
	matches, err := filepath.Glob(e.Glob)
	if err != nil {
		return nil, err
	}

	var out []Info
	denied := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		dev, err := evdev.Open(path)
		if err != nil {
			if os.IsPermission(err) {
				denied++
			}
			continue
		}
		out = append(out, inputInfo(dev, path))
		_ = dev.Close()
	}

	if len(out) == 0 && denied > 0 {
		return nil, fmt.Errorf("permission denied opening %d input devices, add the user to the 'input' group", denied)
	}
	return out, nil
}

func inputInfo(dev *evdev.InputDevice, path string) Info {
	name, _ := dev.Name()
	phys, _ := dev.PhysicalLocation()

	id := "input:" + filepath.Base(path)
	if iid, err := dev.InputID(); err == nil {
		// event node numbers are reassigned on replug, vendor/product/name are stable
		id = fmt.Sprintf("input:%04x:%04x:%04x:%s:%s", iid.BusType, iid.Vendor, iid.Product, name, phys)
	}
	return Info{ID: id, DisplayName: name, Source: SourceInput}
}
