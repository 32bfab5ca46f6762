package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proctorerrors "github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/stream"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
	}
}

func fakeUSBTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeAttrs(t, filepath.Join(root, "usb1"), map[string]string{
		"idVendor": "1d6b", "idProduct": "0002", "manufacturer": "Linux Foundation", "product": "2.0 root hub",
	})
	writeAttrs(t, filepath.Join(root, "1-2"), map[string]string{
		"idVendor": "046d", "idProduct": "c077", "manufacturer": "Logitech", "product": "USB Optical Mouse",
	})
	writeAttrs(t, filepath.Join(root, "1-2:1.0"), map[string]string{"bInterfaceClass": "03"})
	writeAttrs(t, filepath.Join(root, "1-3"), map[string]string{
		"idVendor": "0781", "idProduct": "5567", "manufacturer": "SanDisk", "product": "Cruzer Blade",
		"serial": "4C530001", "authorized": "0",
	})
	return root
}

func TestUSBEnumerator(t *testing.T) {
	t.Parallel()

	root := fakeUSBTree(t)
	devices, err := NewUSBEnumerator(root).Enumerate(t.Context())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	byName := map[string]Info{}
	for _, d := range devices {
		byName[d.DisplayName] = d
	}
	assert.Equal(t, "usb:0781:5567:4C530001", byName["SanDisk Cruzer Blade"].ID)
	assert.Equal(t, "usb:046d:c077@1-2", byName["Logitech USB Optical Mouse"].ID)
	assert.Equal(t, SourceUSB, byName["Linux Foundation 2.0 root hub"].Source)

	missing, err := NewUSBEnumerator(filepath.Join(root, "nope")).Enumerate(t.Context())
	require.NoError(t, err)
	assert.Empty(t, missing)
}

// fakeUEvents replays scripted uevents in place of the netlink socket.
type fakeUEvents struct {
	existing []uevent
	events   chan uevent
	err      error
}

func (f *fakeUEvents) Existing() ([]uevent, error) { return f.existing, nil }

func (f *fakeUEvents) Monitor(ctx context.Context) (<-chan uevent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan uevent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func usbUEvent(action, kobj, product string) uevent {
	return uevent{Action: action, KObj: kobj, Env: map[string]string{
		"SUBSYSTEM": "usb", "DEVTYPE": "usb_device", "PRODUCT": product,
	}}
}

func TestUSBWatcherAuthorizedAndEvents(t *testing.T) {
	t.Parallel()

	root := fakeUSBTree(t)
	src := &fakeUEvents{
		existing: []uevent{
			usbUEvent("add", "/devices/pci0000:00/0000:00:14.0/usb1", "1d6b/2/606"),
			usbUEvent("add", "/devices/pci0000:00/0000:00:14.0/usb1/1-2", "46d/c077/7200"),
			{Action: "add", KObj: "/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0", Env: map[string]string{"DEVTYPE": "usb_interface"}},
		},
		events: make(chan uevent),
	}
	w := newUSBWatcher(root, src)

	authorized, err := w.AuthorizedDevices(t.Context())
	require.NoError(t, err)
	assert.Len(t, authorized, 2, "deauthorized devices are excluded")

	var mu sync.Mutex
	var events []Event
	unsub := w.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	require.NoError(t, w.Start(t.Context()))
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	writeAttrs(t, filepath.Join(root, "2-1"), map[string]string{
		"idVendor": "0951", "idProduct": "1666", "product": "DataTraveler 3.0", "serial": "ABC",
	})
	src.events <- usbUEvent("add", "/devices/pci0000:00/0000:00:14.0/usb2/2-1", "951/1666/1")
	src.events <- uevent{Action: "add", KObj: "/devices/pci0000:00/0000:00:14.0/usb2/2-1/2-1:1.0", Env: map[string]string{"DEVTYPE": "usb_interface"}}

	require.NoError(t, os.RemoveAll(filepath.Join(root, "1-2")))
	src.events <- usbUEvent("remove", "/devices/pci0000:00/0000:00:14.0/usb1/1-2", "46d/c077/7200")
	src.events <- usbUEvent("remove", "/devices/pci0000:00/0000:00:14.0/usb3/3-4", "781/5567/100")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	got := make([]string, 0, len(events))
	for _, ev := range events {
		got = append(got, string(ev.Type)+" "+ev.Device.ID+" "+ev.Device.DisplayName)
	}
	mu.Unlock()
	assert.Equal(t, []string{
		"connect usb:0951:1666:ABC DataTraveler 3.0",
		"disconnect usb:046d:c077@1-2 Logitech USB Optical Mouse",
		"disconnect usb:0781:5567@3-4 ",
	}, got)

	unsub()
	unsub()
	w.Stop()
}

func TestUSBWatcherMonitorFailure(t *testing.T) {
	t.Parallel()

	w := newUSBWatcher(t.TempDir(), &fakeUEvents{err: errors.New("netlink: operation not permitted")})
	err := w.Start(t.Context())
	require.Error(t, err)
	assert.True(t, proctorerrors.IsCategory(err, proctorerrors.CategorySystem))
	w.Stop()
}

func TestVideoEnumerator(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeAttrs(t, filepath.Join(root, "video0"), map[string]string{"name": "Integrated Camera: Integrated C"})
	writeAttrs(t, filepath.Join(root, "video2"), map[string]string{"name": "Logitech HD Pro Webcam C920"})

	devices, err := (&VideoEnumerator{Root: root}).Enumerate(t.Context())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "video:video0:Integrated Camera: Integrated C", devices[0].ID)
	assert.Equal(t, SourceVideo, devices[1].Source)

	none, err := (&VideoEnumerator{Root: filepath.Join(root, "missing")}).Enumerate(t.Context())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAudioEnumerator(t *testing.T) {
	t.Parallel()

	e := &AudioEnumerator{list: func() ([]stream.CaptureDevice, error) {
		return []stream.CaptureDevice{
			{Index: 0, Name: "HDA Intel PCH: ALC3246 Analog", ID: "hw:0,0", IsDefault: true},
			{Index: 1, Name: "Blue Yeti", ID: ""},
		}, nil
	}}
	devices, err := e.Enumerate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []Info{
		{ID: "audio:hw:0,0", DisplayName: "HDA Intel PCH: ALC3246 Analog", Source: SourceAudio},
		{ID: "audio:Blue Yeti", DisplayName: "Blue Yeti", Source: SourceAudio},
	}, devices)

	failing := &AudioEnumerator{list: func() ([]stream.CaptureDevice, error) { return nil, errors.New("no backend") }}
	_, err = failing.Enumerate(t.Context())
	require.Error(t, err)
}

func TestPartitionEnumerator(t *testing.T) {
	t.Parallel()

	e := &PartitionEnumerator{partitions: func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/nvme0n1p2", Mountpoint: "/", Fstype: "ext4"},
			{Device: "/dev/nvme0n1p1", Mountpoint: "/boot/efi", Fstype: "vfat"},
			{Device: "/dev/sdb1", Mountpoint: "/media/exam/CRUZER", Fstype: "vfat"},
			{Device: "/dev/sdc1", Mountpoint: "/run/media/exam/DATA", Fstype: "exfat"},
			{Device: "/dev/disk4s1", Mountpoint: "/Volumes/STICK", Fstype: "msdos"},
			{Device: "C:", Mountpoint: "C:", Fstype: "NTFS"},
			{Device: "E:", Mountpoint: "E:", Fstype: "FAT32"},
			{Device: "D:", Mountpoint: "D:", Fstype: "NTFS"},
		}, nil
	}}

	devices, err := e.Enumerate(t.Context())
	require.NoError(t, err)

	var ids []string
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"partition:/dev/sdb1", "partition:/dev/sdc1", "partition:/dev/disk4s1", "partition:E:"}, ids)

	c := NewClassifier(DefaultPatterns())
	for _, d := range devices {
		assert.Equal(t, ClassStorage, c.Classify(d.DisplayName), d.DisplayName)
	}
}

func TestInventoryMergesAndReportsFailures(t *testing.T) {
	t.Parallel()

	a := &scriptedEnumerator{name: "a", steps: [][]Info{{webcam, {ID: "", DisplayName: "no id"}}}}
	b := &scriptedEnumerator{name: "b", steps: [][]Info{{cruzer, webcam}}}
	broken := &scriptedEnumerator{name: "broken", errAt: map[int]error{0: errors.New("ioctl failed")}}

	devices, errs := Inventory(t.Context(), []Enumerator{a, broken, b}, NewClassifier(DefaultPatterns()))
	require.Len(t, errs, 1)
	assert.True(t, proctorerrors.IsCategory(errs[0], proctorerrors.CategoryEnumeration))

	require.Len(t, devices, 2)
	assert.Equal(t, cruzer.ID, devices[0].ID)
	assert.Equal(t, ClassStorage, devices[0].Classification)
	assert.Equal(t, ClassBuiltIn, devices[1].Classification)
}

// fakeStickTree lays out a sysfs tree with one USB stick whose partition
// sdb1 is reachable through class/block. The stick is not on the bus until
// plugIn is called.
func fakeStickTree(t *testing.T) (busRoot, blockRoot string, plugIn func()) {
	t.Helper()
	root := t.TempDir()
	stick := filepath.Join(root, "devices", "pci0000:00", "usb2", "2-1")
	writeAttrs(t, stick, map[string]string{
		"idVendor": "0781", "idProduct": "5567", "manufacturer": "SanDisk", "product": "Cruzer Blade", "serial": "4C530001",
	})
	part := filepath.Join(stick, "2-1:1.0", "host6", "target6:0:0", "6:0:0:0", "block", "sdb", "sdb1")
	writeAttrs(t, part, map[string]string{"partition": "1"})

	busRoot = filepath.Join(root, "bus", "usb", "devices")
	blockRoot = filepath.Join(root, "class", "block")
	require.NoError(t, os.MkdirAll(busRoot, 0o755))
	require.NoError(t, os.MkdirAll(blockRoot, 0o755))
	require.NoError(t, os.Symlink(part, filepath.Join(blockRoot, "sdb1")))

	return busRoot, blockRoot, func() {
		require.NoError(t, os.Symlink(stick, filepath.Join(busRoot, "2-1")))
	}
}

func TestPartitionEnumeratorResolvesUSBParent(t *testing.T) {
	t.Parallel()

	_, blockRoot, _ := fakeStickTree(t)
	e := &PartitionEnumerator{BlockRoot: blockRoot, partitions: func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sdb1", Mountpoint: "/media/alex/CRUZER", Fstype: "vfat"},
			{Device: "/dev/sdc1", Mountpoint: "/media/alex/OTHER", Fstype: "vfat"},
		}, nil
	}}

	devices, err := e.Enumerate(t.Context())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "usb:0781:5567:4C530001", devices[0].Parent)
	assert.Empty(t, devices[1].Parent, "no block entry, no parent")
}
