package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
)

// Every constructor in the graph must be resolvable; a feature module
// missing from the option list surfaces here instead of at deploy time.
func TestDependencyGraphResolves(t *testing.T) {
	assert.NoError(t, fx.ValidateApp(options()))
}
