package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

func TestLoaderVersionWithoutEntryPoint(t *testing.T) {
	// An unbound loader cannot look up vkEnumerateInstanceVersion.
	l := &Loader{}
	version, err := l.Version()
	require.NoError(t, err)
	assert.Equal(t, gpu.MakeVersion(1, 0, 0), version)
	assert.Less(t, uint32(version), uint32(gpu.PortabilityVersion))
}
