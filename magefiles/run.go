//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds and runs the testbed against the local Vulkan driver.
func (Run) Engine() error {
	mg.Deps(Build.Binary)
	fmt.Println("Run engine...")
	if _, err := executeCmd("bin/tundra", withStream()); err != nil {
		return err
	}
	return nil
}
