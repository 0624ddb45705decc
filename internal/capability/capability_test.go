package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostAllowedExactMatch(t *testing.T) {
	s := Set{AllowedHosts: []string{"api.example.com"}}
	assert.True(t, s.HostAllowed("api.example.com"))
	assert.True(t, s.HostAllowed("API.Example.com"), "host matching is case-insensitive")
	assert.False(t, s.HostAllowed("other.example.com"))
}

func TestHostAllowedWildcard(t *testing.T) {
	s := Set{AllowedHosts: []string{"*.example.com"}}
	assert.True(t, s.HostAllowed("api.example.com"))
	assert.True(t, s.HostAllowed("deep.sub.example.com"))
	assert.False(t, s.HostAllowed("example.com"), "wildcard requires a subdomain label")
	assert.False(t, s.HostAllowed("notexample.com"))
}

func TestHostAllowedEmptySetDeniesAll(t *testing.T) {
	var s Set
	assert.False(t, s.HostAllowed("anything.com"))
}

func TestTimeoutDefault(t *testing.T) {
	var s Set
	assert.Equal(t, 30_000, s.Timeout())
}

func TestTimeoutConfigured(t *testing.T) {
	s := Set{TimeoutMS: 5000}
	assert.Equal(t, 5000, s.Timeout())
}

func TestTimeoutNegativeFallsBackToDefault(t *testing.T) {
	s := Set{TimeoutMS: -1}
	assert.Equal(t, 30_000, s.Timeout())
}
