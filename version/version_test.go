package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent("client")
	assert.True(t, strings.HasPrefix(ua, "kivyx-ota-client/"+OTAVersion()+" ("), ua)
}
