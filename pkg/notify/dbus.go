package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface   = "org.freedesktop.Notifications"
)

// DBus talks to the desktop notification server on the session bus.
// Logical ids are mapped to server ids so re-notifying an id replaces the
// bubble in place.
type DBus struct {
	appName string
	bus     *dbus.Conn
	handler ActionHandler

	mu        sync.Mutex
	serverIDs map[int]uint32            // logical -> server
	logical   map[uint32]int            // server -> logical
	actions   map[int]map[string]Action // logical -> key -> action
}

// NewDBus connects to the session bus. handler may be nil.
func NewDBus(appName string, handler ActionHandler) (*DBus, error) {
	bus, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBus{
		appName:   appName,
		bus:       bus,
		handler:   handler,
		serverIDs: make(map[int]uint32),
		logical:   make(map[uint32]int),
		actions:   make(map[int]map[string]Action),
	}, nil
}

// SetHandler replaces the action handler.
func (d *DBus) SetHandler(h ActionHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *DBus) Notify(ctx context.Context, n Notification) error {
	d.mu.Lock()
	replaces := d.serverIDs[n.ID]
	d.mu.Unlock()

	// Actions are a flat list of key, label pairs.
	acts := make([]string, 0, 2*len(n.Actions))
	byKey := make(map[string]Action, len(n.Actions))
	for _, a := range n.Actions {
		acts = append(acts, a.Key, a.Label)
		byKey[a.Key] = a
	}
	hints := map[string]dbus.Variant{
		"category": dbus.MakeVariant("shopsense"),
	}
	expire := int32(-1)
	if n.Ongoing {
		hints["resident"] = dbus.MakeVariant(true)
		hints["urgency"] = dbus.MakeVariant(byte(0))
		expire = 0
	}

	var id uint32
	call := d.bus.Object(notifyService, notifyPath).CallWithContext(ctx, notifyIface+".Notify", 0,
		d.appName, replaces, "", n.Title, n.Body, acts, hints, expire)
	if call.Err != nil {
		return fmt.Errorf("notify %d: %w", n.ID, call.Err)
	}
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify %d: %w", n.ID, err)
	}

	d.mu.Lock()
	if old, ok := d.serverIDs[n.ID]; ok && old != id {
		delete(d.logical, old)
	}
	d.serverIDs[n.ID] = id
	d.logical[id] = n.ID
	d.actions[n.ID] = byKey
	d.mu.Unlock()
	return nil
}

func (d *DBus) Cancel(ctx context.Context, id int) error {
	d.mu.Lock()
	sid, ok := d.serverIDs[id]
	d.forgetLocked(id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	call := d.bus.Object(notifyService, notifyPath).CallWithContext(ctx, notifyIface+".CloseNotification", 0, sid)
	if call.Err != nil {
		return fmt.Errorf("close notification %d: %w", id, call.Err)
	}
	return nil
}

func (d *DBus) forgetLocked(id int) {
	if sid, ok := d.serverIDs[id]; ok {
		delete(d.logical, sid)
	}
	delete(d.serverIDs, id)
	delete(d.actions, id)
}

// Listen dispatches ActionInvoked signals to the handler until ctx is done.
func (d *DBus) Listen(ctx context.Context) error {
	if err := d.bus.AddMatchSignal(
		dbus.WithMatchInterface(notifyIface),
		dbus.WithMatchObjectPath(notifyPath),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}
	sigCh := make(chan *dbus.Signal, 16)
	d.bus.Signal(sigCh)
	defer d.bus.RemoveSignal(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig == nil {
				return errors.New("dbus signal channel closed")
			}
			d.dispatch(sig)
		}
	}
}

func (d *DBus) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case notifyIface + ".ActionInvoked":
		if len(sig.Body) < 2 {
			return
		}
		sid, _ := sig.Body[0].(uint32)
		key, _ := sig.Body[1].(string)
		d.mu.Lock()
		id, ok := d.logical[sid]
		act, known := d.actions[id][key]
		handler := d.handler
		d.mu.Unlock()
		if !ok {
			return
		}
		if !known {
			act = Action{Key: key}
		}
		log.Debug("action invoked", "id", id, "action", key)
		// The handler may wait on the controller, which in turn calls
		// Notify; keep the signal reader free.
		if handler != nil {
			go handler(id, act)
		}
	case notifyIface + ".NotificationClosed":
		if len(sig.Body) < 1 {
			return
		}
		sid, _ := sig.Body[0].(uint32)
		d.mu.Lock()
		if id, ok := d.logical[sid]; ok {
			d.forgetLocked(id)
		}
		d.mu.Unlock()
	}
}

// Close closes the bus connection.
func (d *DBus) Close() error {
	return d.bus.Close()
}
