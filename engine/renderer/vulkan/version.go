package vulkan

/*
#include <stdint.h>
#include <stddef.h>

typedef void (*tundraVoidFunction)(void);
typedef tundraVoidFunction (*tundraGetInstanceProcAddr)(void *instance, const char *name);
typedef int32_t (*tundraEnumerateInstanceVersion)(uint32_t *version);

// Returns 1 when the loader does not export vkEnumerateInstanceVersion.
static int32_t tundraInstanceVersion(void *getProcAddr, uint32_t *version) {
	tundraVoidFunction fn = ((tundraGetInstanceProcAddr)getProcAddr)(NULL, "vkEnumerateInstanceVersion");
	if (fn == NULL) {
		return 1;
	}
	return ((tundraEnumerateInstanceVersion)fn)(version);
}
*/
import "C"

import (
	"unsafe"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// instanceVersion asks the loader behind procAddr for its API version.
// Vulkan 1.0 loaders have no vkEnumerateInstanceVersion and report 1.0.0.
func instanceVersion(procAddr unsafe.Pointer) gpu.Version {
	fallback := gpu.MakeVersion(1, 0, 0)
	if procAddr == nil {
		return fallback
	}
	var version C.uint32_t
	if res := C.tundraInstanceVersion(procAddr, &version); res != 0 {
		return fallback
	}
	return gpu.Version(version)
}
