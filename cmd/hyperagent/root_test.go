package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandPrintsBuildInfo(t *testing.T) {
	cmd := newVersionCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hyperagent")
	assert.Contains(t, out.String(), version)
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
