package core

import "sync"

type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		I32 [4]int32
		U32 [4]uint32
		F32 [4]float32
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EventCodeApplicationQuit SystemEventCode = 0x01

	// Keyboard key pressed.
	/* Context usage:
	 * u16 key_code = data.U32[0];
	 */
	EventCodeKeyPressed SystemEventCode = 0x02

	// Keyboard key released.
	/* Context usage:
	 * u16 key_code = data.U32[0];
	 */
	EventCodeKeyReleased SystemEventCode = 0x03

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.U32[0];
	 * u32 height = data.U32[1];
	 */
	EventCodeResized SystemEventCode = 0x08

	// The configuration file was reloaded.
	EventCodeConfigReloaded SystemEventCode = 0x10

	MaxEventCode SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventCodeEntry struct {
	events []*registeredEvent
}

// State structure.
type eventSystemState struct {
	mu sync.RWMutex
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES]eventCodeEntry
}

var eventMutex sync.Mutex
var eventState *eventSystemState = nil

func EventInitialize() bool {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{}
	return true
}

func EventShutdown() error {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	// Objects pointed to by listeners are destroyed on their own.
	eventState = nil
	return nil
}

func currentEventState() *eventSystemState {
	eventMutex.Lock()
	defer eventMutex.Unlock()
	return eventState
}

func validCode(code SystemEventCode) bool {
	return code >= 0 && code < MAX_MESSAGE_CODES
}

/**
 * Register to listen for when events are sent with the provided code. A listener
 * can be registered only once per code; a duplicate returns false.
 */
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	state := currentEventState()
	if state == nil || !validCode(code) || onEvent == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	entry := &state.registered[code]
	for _, e := range entry.events {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	entry.events = append(entry.events, &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns false.
 */
func EventUnregister(code SystemEventCode, listener interface{}) bool {
	state := currentEventState()
	if state == nil || !validCode(code) {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	entry := &state.registered[code]
	for i, e := range entry.events {
		if e.listener == listener {
			entry.events = append(entry.events[:i], entry.events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 */
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	state := currentEventState()
	if state == nil || !validCode(code) {
		return false
	}
	state.mu.RLock()
	events := append([]*registeredEvent(nil), state.registered[code].events...)
	state.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}
