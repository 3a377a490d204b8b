package brand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDirectory(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_DIR", "")
	assert.Equal(t, DefaultDirectory, GetDirectory())

	t.Setenv(ConfigEnvPrefix+"_DIR", "/srv/ipsets/")
	assert.Equal(t, "/srv/ipsets/", GetDirectory())
}

func TestGetDestination(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_DESTINATION", "")
	assert.Equal(t, DefaultDestination, GetDestination())

	t.Setenv(ConfigEnvPrefix+"_DESTINATION", "/tmp/cluster.fw")
	assert.Equal(t, "/tmp/cluster.fw", GetDestination())
}
