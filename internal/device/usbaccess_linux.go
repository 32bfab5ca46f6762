//go:build linux

package device

import (
	"context"
	"strings"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"

	"github.com/tphakala/proctor-go/internal/logger"
)

// netlinkSource reads kernel uevents from a NETLINK_KOBJECT_UEVENT socket.
type netlinkSource struct{}

func newUEventSource() ueventSource { return netlinkSource{} }

// Existing crawls /sys/devices for devices present before monitoring.
func (netlinkSource) Existing() ([]uevent, error) {
	queue := make(chan crawler.Device)
	errs := make(chan error, 1)
	crawler.ExistingDevices(queue, errs, nil)

	var out []uevent
	for dev := range queue {
		out = append(out, uevent{Action: "add", KObj: strings.TrimPrefix(dev.KObj, "/sys"), Env: dev.Env})
	}
	select {
	case err := <-errs:
		return out, err
	default:
		return out, nil
	}
}

// Monitor subscribes to kernel uevents. go-udev's reader goroutine stays
// blocked in recvfrom after quit is closed; it ends with the process.
func (netlinkSource) Monitor(ctx context.Context) (<-chan uevent, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return nil, err
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, nil)

	out := make(chan uevent)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()
		defer close(quit)

		log := GetLogger().Module("usb")
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				log.Debug("uevent read failed", logger.Error(err))
			case ev := <-queue:
				select {
				case out <- uevent{Action: string(ev.Action), KObj: ev.KObj, Env: ev.Env}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
