package platform

import (
	"errors"
	"runtime"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the OS window and is the renderer's surface provider.
type Platform struct {
	Window *glfw.Window
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(cfg core.ApplicationConfig) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.New("glfw could not find a Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(cfg.PosX), int(cfg.PosY))
	p.Window.Show()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// VulkanProcAddr is the loader entry point glfw resolved.
func (p *Platform) VulkanProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// PumpMessages dispatches pending window events to the callbacks.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

// Idle blocks until a window event arrives or timeout passes.
func (p *Platform) Idle(timeout time.Duration) {
	glfw.WaitEventsTimeout(timeout.Seconds())
}

func (p *Platform) RequiredExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(inst gpu.Instance) (gpu.Surface, error) {
	surface, err := p.Window.CreateWindowSurface(inst.Native(), nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return gpu.NullSurface, err
	}
	return gpu.Surface(surface), nil
}

func (p *Platform) DestroySurface(inst gpu.Instance, surface gpu.Surface) {
	inst.DestroySurface(surface)
}

func (p *Platform) Extent() gpu.Extent2D {
	width, height := p.Window.GetFramebufferSize()
	if width < 0 || height < 0 {
		return gpu.Extent2D{}
	}
	return gpu.Extent2D{Width: uint32(width), Height: uint32(height)}
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	core.EventFire(core.EventCodeResized, p, ctx)
}

func (p *Platform) closeCallback(w *glfw.Window) {
	core.EventFire(core.EventCodeApplicationQuit, p, core.EventContext{})
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code, ok := translateKey(key)
	if !ok || action == glfw.Repeat {
		return
	}
	if err := core.InputProcessKey(code, action == glfw.Press); err != nil {
		core.LogError(err.Error())
	}
}

func translateKey(key glfw.Key) (core.KeyCode, bool) {
	switch {
	case key >= glfw.KeyA && key <= glfw.KeyZ:
		// glfw letter keys are their ASCII upper case codes.
		return core.KeyCode(key), true
	case key >= glfw.KeyF1 && key <= glfw.KeyF12:
		return core.KEY_F1 + core.KeyCode(key-glfw.KeyF1), true
	}
	switch key {
	case glfw.KeyEscape:
		return core.KEY_ESCAPE, true
	case glfw.KeySpace:
		return core.KEY_SPACE, true
	case glfw.KeyEnter:
		return core.KEY_ENTER, true
	case glfw.KeyTab:
		return core.KEY_TAB, true
	case glfw.KeyBackspace:
		return core.KEY_BACKSPACE, true
	case glfw.KeyPause:
		return core.KEY_PAUSE, true
	case glfw.KeyLeft:
		return core.KEY_LEFT, true
	case glfw.KeyUp:
		return core.KEY_UP, true
	case glfw.KeyRight:
		return core.KEY_RIGHT, true
	case glfw.KeyDown:
		return core.KEY_DOWN, true
	}
	return 0, false
}
