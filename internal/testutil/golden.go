// Package testutil holds deterministic clocks, id generators and golden
// file helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden returns a goldie instance reading testdata/golden/<name>.golden.
//
// To regenerate golden files, run the package tests with -update.
func Golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}
