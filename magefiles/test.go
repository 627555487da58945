//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test against the in-memory driver.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Writes coverage to coverage.out and prints the per-function summary.
func (Test) Cover() error {
	if _, err := executeCmd("go", withArgs("test", "-coverprofile=coverage.out", "./..."), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("tool", "cover", "-func=coverage.out"), withStream())
	return err
}
