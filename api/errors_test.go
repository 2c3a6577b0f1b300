package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/usock/api"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want api.ErrorCode
	}{
		{nil, api.ErrCodeOK},
		{api.ErrPeerClosed, api.ErrCodePeerClosed},
		{fmt.Errorf("recv: %w", api.ErrPeerClosed), api.ErrCodePeerClosed},
		{api.ErrCapacityExceeded, api.ErrCodeCapacity},
		{api.ErrUnexpectedTimeout, api.ErrCodeFatal},
		{fmt.Errorf("epoll wait: %w", api.ErrWaitFailed), api.ErrCodeFatal},
		{api.ErrPartialSend, api.ErrCodeTransient},
		{api.ErrReceive, api.ErrCodeTransient},
		{fmt.Errorf("bind: %w", api.ErrSetup), api.ErrCodeSetup},
		{errors.New("boom"), api.ErrCodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, api.Classify(tc.err), "err=%v", tc.err)
	}
}

func TestStructuredErrorUnwrap(t *testing.T) {
	err := api.Wrap(api.ErrCodeSetup, api.ErrSetup, "listen").WithContext("port", 8080)
	require.ErrorIs(t, err, api.ErrSetup)
	assert.Equal(t, api.ErrCodeSetup, api.Classify(err))
	assert.Contains(t, err.Error(), "listen")
	assert.Contains(t, err.Error(), "8080")
}

func TestEndpointConfigValidate(t *testing.T) {
	good := api.EndpointConfig{Protocol: api.TCP, Role: api.Server, Address: "127.0.0.1", Port: 8080, Name: "srv"}
	require.NoError(t, good.Validate())
	assert.Equal(t, "127.0.0.1:8080", good.AddrPort().String())

	ephemeral := good
	ephemeral.Port = 0
	require.NoError(t, ephemeral.Validate())

	bad := good
	bad.Role = api.Client
	bad.Port = 0
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidArgument)

	bad = good
	bad.Address = "::1"
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidArgument)

	bad = good
	bad.Name = ""
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidArgument)
}

func TestParseProtocolAndRole(t *testing.T) {
	p, err := api.ParseProtocol("UDP")
	require.NoError(t, err)
	assert.Equal(t, api.UDP, p)
	_, err = api.ParseProtocol("sctp")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	r, err := api.ParseRole("server")
	require.NoError(t, err)
	assert.Equal(t, api.Server, r)
	_, err = api.ParseRole("peer")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestReadinessString(t *testing.T) {
	assert.Equal(t, "none", api.Readiness(0).String())
	assert.Equal(t, "accept|close", (api.ReadyAccept | api.ReadyClose).String())
	assert.True(t, (api.ReadyRead | api.ReadyWrite).Has(api.ReadyRead))
}
