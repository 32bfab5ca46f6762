package device

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// EventType is a USB connection change.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// Event is one USB connection change.
type Event struct {
	Type   EventType
	Device Info
	At     time.Time
}

// USBAccess reports authorized USB devices and their connect events.
type USBAccess interface {
	AuthorizedDevices(ctx context.Context) ([]Info, error)
	// Subscribe registers fn for connect events. The returned function
	// unregisters it; fn is not called after it returns. fn must not call
	// back into the USBAccess.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// uevent is a kernel object event, as delivered by netlink or found by a
// sysfs crawl.
type uevent struct {
	Action string // "add" or "remove"
	KObj   string // device path, e.g. /devices/pci0000:00/0000:00:14.0/usb2/2-1
	Env    map[string]string
}

// isUSBDevice reports whether ev is about a whole USB device rather than
// one of its interfaces.
func (ev uevent) isUSBDevice() bool {
	return ev.Env["DEVTYPE"] == "usb_device"
}

// ueventSource yields the USB devices present at start and the changes after.
type ueventSource interface {
	Existing() ([]uevent, error)
	// Monitor delivers events until ctx ends, then closes the channel.
	Monitor(ctx context.Context) (<-chan uevent, error)
}

// USBWatcher implements USBAccess on kernel uevents. Device names are read
// from sysfs under root when the device is added.
type USBWatcher struct {
	root   string
	source ueventSource
	now    func() time.Time
	log    logger.Logger

	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	known   map[string]Info // by sysfs name, e.g. "2-1"
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewUSBWatcher watches USB uevents; root is normally /sys/bus/usb/devices.
func NewUSBWatcher(root string) *USBWatcher {
	if root == "" {
		root = defaultUSBRoot
	}
	return newUSBWatcher(root, newUEventSource())
}

func newUSBWatcher(root string, source ueventSource) *USBWatcher {
	return &USBWatcher{
		root:   root,
		source: source,
		now:    time.Now,
		log:    GetLogger().Module("usb"),
		subs:   make(map[int]func(Event)),
	}
}

// AuthorizedDevices lists USB devices the kernel has authorized.
func (w *USBWatcher) AuthorizedDevices(context.Context) ([]Info, error) {
	devices, err := readUSBDevices(w.root)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, d := range devices {
		if d.authorized {
			out = append(out, d.info())
		}
	}
	return out, nil
}

// Subscribe registers fn for connection events.
func (w *USBWatcher) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Start records the devices already present and begins monitoring.
func (w *USBWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	existing, err := w.source.Existing()
	if err != nil {
		// names of unseen devices fall back to the uevent PRODUCT
		w.log.Debug("usb crawl incomplete", logger.Error(err))
	}
	w.known = make(map[string]Info, len(existing))
	for _, ev := range existing {
		if ev.isUSBDevice() {
			w.known[filepath.Base(ev.KObj)] = w.describe(ev)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	events, err := w.source.Monitor(loopCtx)
	if err != nil {
		cancel()
		return errors.New(err).
			Component("device").
			Category(errors.CategorySystem).
			Context("operation", "usb-monitor").
			Build()
	}

	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.loop(events)
	return nil
}

// Stop ends monitoring and waits for the loop.
func (w *USBWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *USBWatcher) loop(events <-chan uevent) {
	defer w.wg.Done()
	for ev := range events {
		w.handle(ev)
	}
}

// handle turns one uevent into a connection event for the subscribers.
func (w *USBWatcher) handle(ev uevent) {
	if !ev.isUSBDevice() {
		return
	}
	name := filepath.Base(ev.KObj)

	w.mu.Lock()
	defer w.mu.Unlock()

	var out Event
	switch ev.Action {
	case "add":
		info := w.describe(ev)
		w.known[name] = info
		out = Event{Type: EventConnect, Device: info, At: w.now()}
	case "remove":
		info, ok := w.known[name]
		if !ok {
			info = w.describe(ev)
		}
		delete(w.known, name)
		out = Event{Type: EventDisconnect, Device: info, At: w.now()}
	default:
		return
	}

	w.log.Info("usb device "+string(out.Type),
		logger.String("device_id", out.Device.ID),
		logger.String("name", out.Device.DisplayName))
	for _, fn := range w.subs {
		fn(out)
	}
}

// describe names the device of ev from sysfs, or from its PRODUCT variable
// when the sysfs entry is already gone.
func (w *USBWatcher) describe(ev uevent) Info {
	name := filepath.Base(ev.KObj)
	if d, ok := readUSBDevice(filepath.Join(w.root, name)); ok {
		return d.info()
	}
	d := usbDevice{path: name}
	// PRODUCT is vendor/product/bcdDevice in unpadded hex
	if parts := strings.Split(ev.Env["PRODUCT"], "/"); len(parts) >= 2 {
		d.vendorID = padHex(parts[0])
		d.productID = padHex(parts[1])
	}
	return d.info()
}

func padHex(s string) string {
	var v uint64
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return s
	}
	return fmt.Sprintf("%04x", v)
}
