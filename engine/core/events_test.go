package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEvents(t *testing.T) {
	t.Helper()
	require.True(t, EventInitialize())
	t.Cleanup(func() { EventShutdown() })
}

func TestEventInitializeTwice(t *testing.T) {
	withEvents(t)
	assert.False(t, EventInitialize())
}

func TestEventRegisterFire(t *testing.T) {
	withEvents(t)

	var got []uint32
	listener := &struct{ name string }{"a"}
	onEvent := func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool {
		assert.Equal(t, EventCodeResized, code)
		assert.Same(t, listener, listenerInst)
		got = append(got, data.Data.U32[0], data.Data.U32[1])
		return false
	}
	require.True(t, EventRegister(EventCodeResized, listener, onEvent))
	assert.False(t, EventRegister(EventCodeResized, listener, onEvent), "duplicate listener")
	assert.False(t, EventRegister(EventCodeResized, listener, nil))
	assert.False(t, EventRegister(MAX_MESSAGE_CODES, listener, onEvent))

	var ctx EventContext
	ctx.Data.U32[0] = 800
	ctx.Data.U32[1] = 600
	assert.False(t, EventFire(EventCodeResized, nil, ctx))
	assert.Equal(t, []uint32{800, 600}, got)

	require.True(t, EventUnregister(EventCodeResized, listener))
	assert.False(t, EventUnregister(EventCodeResized, listener))
	EventFire(EventCodeResized, nil, ctx)
	assert.Len(t, got, 2)
}

func TestEventFireStopsWhenHandled(t *testing.T) {
	withEvents(t)

	var order []string
	handler := func(name string, handled bool) FnOnEvent {
		return func(SystemEventCode, interface{}, interface{}, EventContext) bool {
			order = append(order, name)
			return handled
		}
	}
	first, second, third := new(int), new(int), new(int)
	EventRegister(EventCodeApplicationQuit, first, handler("first", false))
	EventRegister(EventCodeApplicationQuit, second, handler("second", true))
	EventRegister(EventCodeApplicationQuit, third, handler("third", false))

	assert.True(t, EventFire(EventCodeApplicationQuit, nil, EventContext{}))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventHandlerMayUnregister(t *testing.T) {
	withEvents(t)

	calls := 0
	listener := new(int)
	EventRegister(EventCodeConfigReloaded, listener, func(code SystemEventCode, _ interface{}, l interface{}, _ EventContext) bool {
		calls++
		EventUnregister(code, l)
		return false
	})
	EventFire(EventCodeConfigReloaded, nil, EventContext{})
	EventFire(EventCodeConfigReloaded, nil, EventContext{})
	assert.Equal(t, 1, calls)
}

func TestEventsWithoutSystem(t *testing.T) {
	assert.False(t, EventRegister(EventCodeResized, t, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return true }))
	assert.False(t, EventFire(EventCodeResized, nil, EventContext{}))
	assert.False(t, EventUnregister(EventCodeResized, t))
}
