package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"classify", "region", "scenes", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "landcover-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestClassifyCommand_Flags(t *testing.T) {
	for _, name := range []string{"region", "positive", "negative", "seed", "split", "trees", "export", "destination", "report-dir", "format", "quiet"} {
		assert.NotNil(t, classifyCmd.Flags().Lookup(name), "classify should have --%s flag", name)
	}
}

func TestRegionCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range regionCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
	assert.NotNil(t, runsListCmd.Flags().Lookup("status"))
	assert.NotNil(t, runsListCmd.Flags().Lookup("region"))
}
