package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("should expose the serve subcommand", func(t *testing.T) {
		names := []string{}
		for _, c := range GetRootCmd().Commands() {
			names = append(names, c.Name())
		}
		assert.Contains(t, names, "serve")
	})

	t.Run("should report its version", func(t *testing.T) {
		require.NotEmpty(t, GetVersion())
		assert.Equal(t, version, GetRootCmd().Version)
	})

	t.Run("should register global flags", func(t *testing.T) {
		assert.NotNil(t, GetRootCmd().PersistentFlags().Lookup("config"))
		assert.NotNil(t, GetRootCmd().PersistentFlags().Lookup("log-level"))
	})
}
