package ssrf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckURL_RejectsLocalhost(t *testing.T) {
	_, err := CheckURL("http://localhost/secret")
	require.Error(t, err)
}

func TestCheckURL_RejectsPrivateIPLiteral(t *testing.T) {
	_, err := CheckURL("http://192.168.1.1/")
	require.Error(t, err)
}

func TestCheckURL_RejectsFileScheme(t *testing.T) {
	_, err := CheckURL("file:///etc/passwd")
	require.Error(t, err)
}

func TestCheckURL_RejectsJavascriptScheme(t *testing.T) {
	_, err := CheckURL("javascript:alert(1)")
	require.Error(t, err)
}

func TestCheckURL_AllowsPublicHTTPS(t *testing.T) {
	u, err := CheckURL("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Hostname())
}

func TestIsPrivateIP(t *testing.T) {
	cases := map[string]bool{
		"10.1.2.3":     true,
		"172.16.0.5":   true,
		"192.168.0.1":  true,
		"127.0.0.1":    true,
		"169.254.1.1":  true,
		"8.8.8.8":      false,
		"93.184.216.34": false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, IsPrivateIP(net.ParseIP(addr)), addr)
	}
}

func TestCheckResolvedIP(t *testing.T) {
	require.Error(t, CheckResolvedIP(net.ParseIP("10.0.0.1")))
	require.NoError(t, CheckResolvedIP(net.ParseIP("93.184.216.34")))
}
