package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd(t *testing.T) {
	t.Run("should expose the expected subcommands", func(t *testing.T) {
		root := GetRootCmd()

		names := map[string]bool{}
		for _, cmd := range root.Commands() {
			names[cmd.Name()] = true
		}

		assert.True(t, names["run"])
		assert.True(t, names["status"])
		assert.True(t, names["watch"])
		assert.True(t, names["sweep"])
	})

	t.Run("should report a version", func(t *testing.T) {
		assert.NotEmpty(t, GetVersion())
	})
}
