package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.4.0"
	assert.Equal(t, "freightline/1.4.0", UserAgent())
	assert.Contains(t, String(), "freightline v1.4.0")
}
