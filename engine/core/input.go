package core

import "sync"

// Key code definitions
type KeyCode uint16

const (
	KEY_BACKSPACE KeyCode = 0x08
	KEY_TAB       KeyCode = 0x09
	KEY_ENTER     KeyCode = 0x0D
	KEY_PAUSE     KeyCode = 0x13
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28
	KEY_A         KeyCode = 0x41
	KEY_Q         KeyCode = 0x51
	KEY_R         KeyCode = 0x52
	KEY_F1        KeyCode = 0x70
	KEYS_MAX_KEYS KeyCode = 0x100
)

// Keyboard state structure
type KeyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

// Input state structure that holds current and previous keyboard states
type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
}

var inputMutex sync.Mutex
var inputState *InputState = nil

func InputInitialize() error {
	inputMutex.Lock()
	defer inputMutex.Unlock()
	inputState = &InputState{}
	LogInfo("Input subsystem initialized.")
	return nil
}

func InputShutdown() error {
	inputMutex.Lock()
	defer inputMutex.Unlock()
	inputState = nil
	return nil
}

// InputUpdate copies the current state into the previous one. Call it once
// per loop iteration after everything that reads input.
func InputUpdate(deltaTime float64) error {
	inputMutex.Lock()
	defer inputMutex.Unlock()
	if inputState == nil {
		return nil
	}
	inputState.KeyboardPrevious = inputState.KeyboardCurrent
	return nil
}

func InputIsKeyDown(key KeyCode) bool {
	inputMutex.Lock()
	defer inputMutex.Unlock()
	if inputState == nil || key >= KEYS_MAX_KEYS {
		return false
	}
	return inputState.KeyboardCurrent.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	inputMutex.Lock()
	defer inputMutex.Unlock()
	if inputState == nil || key >= KEYS_MAX_KEYS {
		return false
	}
	return inputState.KeyboardPrevious.Keys[key]
}

// InputProcessKey records a key transition and fires EventCodeKeyPressed or
// EventCodeKeyReleased when the state actually changed.
func InputProcessKey(key KeyCode, pressed bool) error {
	inputMutex.Lock()
	if inputState == nil || key >= KEYS_MAX_KEYS || inputState.KeyboardCurrent.Keys[key] == pressed {
		inputMutex.Unlock()
		return nil
	}
	inputState.KeyboardCurrent.Keys[key] = pressed
	inputMutex.Unlock()

	code := EventCodeKeyReleased
	if pressed {
		code = EventCodeKeyPressed
	}
	var ctx EventContext
	ctx.Data.U32[0] = uint32(key)
	EventFire(code, nil, ctx)
	return nil
}
