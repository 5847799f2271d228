package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Schemes(t *testing.T) {
	v := NewEndpointValidator(true)

	assert.NoError(t, v.Validate("https://agents.example.com/echo"))
	assert.NoError(t, v.Validate("http://agents.example.com"))
	assert.Error(t, v.Validate("file:///etc/passwd"))
	assert.Error(t, v.Validate("ftp://agents.example.com"))
	assert.Error(t, v.Validate("https://"))
}

func TestValidate_BlockedHosts(t *testing.T) {
	v := NewEndpointValidator(false)

	cases := []string{
		"http://localhost:8080",
		"http://127.0.0.1:8080",
		"http://10.0.0.5/agent",
		"http://192.168.1.10",
		"http://172.16.0.1",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]:8080",
		"http://0.0.0.0",
	}
	for _, endpoint := range cases {
		assert.Error(t, v.Validate(endpoint), endpoint)
	}
}

func TestValidate_PrivateAllowedInDevelopment(t *testing.T) {
	v := NewEndpointValidator(true)

	assert.NoError(t, v.Validate("http://localhost:8080"))
	assert.NoError(t, v.Validate("http://127.0.0.1:9999/agent"))
}
