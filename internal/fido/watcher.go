package fido

import (
	"reflect"
	"sync"
	"time"

	"github.com/picoforge/passkey-agent/internal/logging"
)

// DeviceEventType identifies a device presence event.
type DeviceEventType string

const (
	DeviceAttached DeviceEventType = "device_attached"
	DeviceRemoved  DeviceEventType = "device_removed"
)

// DeviceEvent is emitted when the physical device connection changes.
type DeviceEvent struct {
	Type DeviceEventType `json:"type"`
	Info *Info           `json:"info,omitempty"`
}

// DefaultPollInterval is how often the watcher probes for the device.
const DefaultPollInterval = 2 * time.Second

// Watcher polls for authenticator presence and holds the current capability
// snapshot. When the device disappears it forces the session to lock, since
// no cached secret can be trusted against an unknown device.
type Watcher struct {
	gateway  *Gateway
	session  *Session
	interval time.Duration
	lookup   func(aaguid string) string

	mu   sync.Mutex
	info *Info

	subMu sync.Mutex
	subs  map[chan DeviceEvent]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the given gateway and session. lookup
// resolves an AAGUID to a product name and may be nil.
func NewWatcher(gateway *Gateway, session *Session, interval time.Duration, lookup func(string) string) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		gateway:  gateway,
		session:  session,
		interval: interval,
		lookup:   lookup,
		subs:     make(map[chan DeviceEvent]struct{}),
		stop:     make(chan struct{}),
	}
}

// Current returns the last seen capability snapshot, or nil when no device
// is present.
func (w *Watcher) Current() *Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.clone()
}

// Connected reports whether a device was present at the last poll.
func (w *Watcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info != nil
}

// Subscribe registers a device event channel. The returned func
// unsubscribes.
func (w *Watcher) Subscribe() (<-chan DeviceEvent, func()) {
	ch := make(chan DeviceEvent, 8)
	w.subMu.Lock()
	w.subs[ch] = struct{}{}
	w.subMu.Unlock()

	return ch, func() {
		w.subMu.Lock()
		delete(w.subs, ch)
		w.subMu.Unlock()
	}
}

// Start begins polling in a background goroutine until Stop is called.
func (w *Watcher) Start() {
	go func() {
		defer logging.RecoverAndLog("device watcher", false)

		w.Poll()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Poll()
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Poll probes the device once and updates the snapshot. Exported so tests
// and handlers can force a refresh.
func (w *Watcher) Poll() {
	// Skip while a session operation holds the device; the HID handle is
	// exclusive and the probe would fail spuriously.
	if w.session != nil && w.session.State().InFlight {
		return
	}

	info, err := w.gateway.Info()
	if err != nil {
		w.handleAbsent(err)
		return
	}

	if w.lookup != nil && info.AAGUID != "" {
		info.Product = w.lookup(info.AAGUID)
	}

	w.mu.Lock()
	prev := w.info
	changed := !reflect.DeepEqual(prev, info)
	w.info = info
	w.mu.Unlock()

	if prev == nil {
		logging.Info(logging.CatDevice, "Authenticator attached", map[string]any{
			"aaguid":  info.AAGUID,
			"product": info.Product,
		})
		w.publish(DeviceEvent{Type: DeviceAttached, Info: info.clone()})
	} else if changed {
		logging.Debug(logging.CatDevice, "Authenticator info refreshed", nil)
	}
}

func (w *Watcher) handleAbsent(err error) {
	// A busy handle means another process is talking to the key, not that
	// the key is gone. Keep the last snapshot.
	if !deviceGone(err) {
		return
	}

	w.mu.Lock()
	wasPresent := w.info != nil
	w.info = nil
	w.mu.Unlock()

	if !wasPresent {
		return
	}

	logging.Info(logging.CatDevice, "Authenticator removed", nil)
	w.publish(DeviceEvent{Type: DeviceRemoved})
	if w.session != nil {
		w.session.ForceLock("Security key removed, storage locked")
	}
}

func (w *Watcher) publish(ev DeviceEvent) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
