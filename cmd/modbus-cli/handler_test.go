package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modbus "github.com/grid-x/modbus-cli"
)

func TestNewHandlerTCP(t *testing.T) {
	var opt option
	opt.uri = "tcp://127.0.0.1:1502"
	opt.slaveID = 9
	opt.timeout = time.Second
	opt.tcp.linkRecoveryTimeout = 2 * time.Second
	opt.logger = slog.Default()

	h, err := newHandler(opt)
	require.NoError(t, err)
	tcp, ok := h.(*modbus.TCPClientHandler)
	require.True(t, ok, "expected a tcp handler, got %T", h)
	assert.Equal(t, "127.0.0.1:1502", tcp.Address)
	assert.Equal(t, byte(9), tcp.SlaveID)
	assert.Equal(t, time.Second, tcp.Timeout)
	assert.Equal(t, 2*time.Second, tcp.LinkRecoveryTimeout)
	assert.NotNil(t, tcp.Logger)
}

func TestNewHandlerRTU(t *testing.T) {
	var opt option
	opt.uri = "rtu://ttyUSB0:19200"
	opt.slaveID = 4
	opt.rtu.dataBits = 8
	opt.rtu.parity = "N"
	opt.rtu.stopBits = 2
	opt.rtu.rs485.enabled = true

	h, err := newHandler(opt)
	require.NoError(t, err)
	rtu, ok := h.(*modbus.RTUClientHandler)
	require.True(t, ok, "expected a rtu handler, got %T", h)
	assert.Equal(t, "/dev/ttyUSB0", rtu.Address)
	assert.Equal(t, 19200, rtu.BaudRate)
	assert.Equal(t, "N", rtu.Parity)
	assert.Equal(t, 2, rtu.StopBits)
	assert.True(t, rtu.RS485.Enabled)
	assert.Nil(t, rtu.Logger)

	opt.rtu.baudrate = 4800
	h, err = newHandler(opt)
	require.NoError(t, err)
	assert.Equal(t, 4800, h.(*modbus.RTUClientHandler).BaudRate, "the flag overrides the uri")
}

func TestNewHandlerErrors(t *testing.T) {
	_, err := newHandler(option{uri: "udp://127.0.0.1"})
	assert.Error(t, err)

	_, err = newHandler(option{uri: "tcp://127.0.0.1", slaveID: 256})
	assert.ErrorContains(t, err, "invalid slave id")
}
