package fido

import (
	"testing"
	"time"
)

func nextDeviceEvent(t *testing.T, ch <-chan DeviceEvent) DeviceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device event")
		return DeviceEvent{}
	}
}

func TestWatcherAttach(t *testing.T) {
	driver := NewMockDriver()
	session := NewSession(NewGateway(driver))
	w := NewWatcher(NewGateway(driver), session, time.Hour, nil)
	events, off := w.Subscribe()
	defer off()

	w.Poll()

	if !w.Connected() {
		t.Fatal("expected Connected after poll with a device present")
	}
	info := w.Current()
	if info == nil || info.AAGUID != "2fc0579f811347eab116bb5a8db9202a" {
		t.Fatalf("unexpected info %+v", info)
	}

	ev := nextDeviceEvent(t, events)
	if ev.Type != DeviceAttached {
		t.Errorf("expected attach event, got %v", ev.Type)
	}
	if ev.Info == nil {
		t.Error("attach event must carry the device info")
	}
}

func TestWatcherRemovalForcesLock(t *testing.T) {
	driver := NewMockDriver()
	session := NewSession(NewGateway(driver))
	w := NewWatcher(NewGateway(driver), session, time.Hour, nil)

	w.Poll()
	mustUnlock(t, session, "123456")

	events, off := w.Subscribe()
	defer off()
	sessionEvents, sessionOff := session.Subscribe()
	defer sessionOff()

	driver.WithOpenError(ErrNoDevice)
	w.Poll()

	if w.Connected() {
		t.Fatal("expected disconnected after removal")
	}
	if ev := nextDeviceEvent(t, events); ev.Type != DeviceRemoved {
		t.Errorf("expected removal event, got %v", ev.Type)
	}

	if snap := session.State(); snap.LockState != Locked {
		t.Errorf("removal must lock the session, got %v", snap.LockState)
	}
	if notif := waitForNotification(t, sessionEvents); notif != "Security key removed, storage locked" {
		t.Errorf("unexpected notification %q", notif)
	}
}

func TestWatcherBusyHandleKeepsSnapshot(t *testing.T) {
	driver := NewMockDriver()
	session := NewSession(NewGateway(driver))
	w := NewWatcher(NewGateway(driver), session, time.Hour, nil)

	w.Poll()
	mustUnlock(t, session, "123456")

	// Another process holding the HID handle is not a removal
	driver.WithOpenError(ErrDeviceBusy)
	w.Poll()

	if !w.Connected() {
		t.Error("busy handle must not drop the device snapshot")
	}
	if snap := session.State(); snap.LockState != Unlocked {
		t.Errorf("busy handle must not lock the session, got %v", snap.LockState)
	}
}

func TestWatcherSkipsPollWhileOperationInFlight(t *testing.T) {
	driver := NewMockDriver()
	session := NewSession(NewGateway(driver))
	w := NewWatcher(NewGateway(driver), session, time.Hour, nil)

	gate := make(chan struct{})
	driver.device.WithListGate(gate)
	op, err := session.Unlock("123456")
	if err != nil {
		t.Fatalf("Unlock rejected: %v", err)
	}

	// Wait for the unlock goroutine to reach the device before sampling
	deadline := time.Now().Add(2 * time.Second)
	for driver.Opens() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	opens := driver.Opens()
	w.Poll()
	if driver.Opens() != opens {
		t.Error("poll must not open the device while an operation is in flight")
	}

	close(gate)
	if res := op.Wait(); res.Err != nil {
		t.Fatalf("unlock failed: %v", res.Err)
	}
}

func TestWatcherResolvesProductName(t *testing.T) {
	driver := NewMockDriver()
	lookup := func(aaguid string) string {
		if aaguid == "2fc0579f811347eab116bb5a8db9202a" {
			return "YubiKey 5 NFC"
		}
		return ""
	}
	w := NewWatcher(NewGateway(driver), nil, time.Hour, lookup)

	w.Poll()

	info := w.Current()
	if info == nil || info.Product != "YubiKey 5 NFC" {
		t.Fatalf("expected resolved product name, got %+v", info)
	}
}

func TestWatcherStartStop(t *testing.T) {
	driver := NewMockDriver()
	session := NewSession(NewGateway(driver))
	w := NewWatcher(NewGateway(driver), session, 10*time.Millisecond, nil)

	w.Start()
	deadline := time.Now().Add(2 * time.Second)
	for !w.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !w.Connected() {
		t.Fatal("watcher never detected the device")
	}

	w.Stop()
	w.Stop() // Stop is idempotent
}
