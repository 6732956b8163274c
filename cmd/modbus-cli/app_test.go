package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modbus "github.com/grid-x/modbus-cli"
)

// fakeHandler frames a PDU as function code plus data and answers every
// request through respond.
type fakeHandler struct {
	respond    func(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error)
	connectErr error

	opt      option
	requests []*modbus.ProtocolDataUnit
	closed   bool
}

func (h *fakeHandler) SetSlave(byte) {}

func (h *fakeHandler) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	return append([]byte{pdu.FunctionCode}, pdu.Data...), nil
}

func (h *fakeHandler) Decode(adu []byte) (*modbus.ProtocolDataUnit, error) {
	return &modbus.ProtocolDataUnit{FunctionCode: adu[0], Data: adu[1:]}, nil
}

func (h *fakeHandler) Verify([]byte, []byte) error { return nil }

func (h *fakeHandler) Send(_ context.Context, adu []byte) ([]byte, error) {
	req := &modbus.ProtocolDataUnit{FunctionCode: adu[0], Data: append([]byte(nil), adu[1:]...)}
	h.requests = append(h.requests, req)
	res, err := h.respond(req)
	if err != nil {
		return nil, err
	}
	return append([]byte{res.FunctionCode}, res.Data...), nil
}

func (h *fakeHandler) Connect() error { return h.connectErr }

func (h *fakeHandler) Close() error {
	h.closed = true
	return nil
}

func reply(data ...byte) func(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	return func(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
		return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}, nil
	}
}

func echo(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data[:4]}, nil
}

func runApp(t *testing.T, h *fakeHandler, stdin string, args ...string) (string, error) {
	t.Helper()
	orig := handlerFactory
	handlerFactory = func(o option) (modbus.ClientHandler, error) {
		h.opt = o
		return h, nil
	}
	t.Cleanup(func() { handlerFactory = orig })

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"modbus-cli"}, args...))
	return stdout.String(), err
}

func TestAppReadHoldingRegisters(t *testing.T) {
	h := &fakeHandler{respond: reply(4, 0x00, 0x01, 0x12, 0x34)}
	out, err := runApp(t, h, "", "read", "holding-registers", "100", "2")
	require.NoError(t, err)

	assert.Equal(t, "address\tvalue\n100\t0x01\n101\t0x1234\n", out)
	require.Len(t, h.requests, 1)
	assert.Equal(t, byte(modbus.FuncCodeReadHoldingRegisters), h.requests[0].FunctionCode)
	assert.Equal(t, []byte{0, 100, 0, 2}, h.requests[0].Data)
	assert.True(t, h.closed)
}

func TestAppReadTypedRegisters(t *testing.T) {
	h := &fakeHandler{respond: reply(4, 0x42, 0x28, 0x00, 0x00)}
	out, err := runApp(t, h, "", "read", "input-registers", "--type", "float32", "0x10", "2")
	require.NoError(t, err)

	assert.Equal(t, "address\tvalue\n16\t42.000000\n", out)
	assert.Equal(t, []byte{0, 0x10, 0, 2}, h.requests[0].Data)
}

func TestAppReadCoilsCSV(t *testing.T) {
	h := &fakeHandler{respond: reply(1, 0x05)}
	out, err := runApp(t, h, "", "--format", "csv", "read", "coils", "8", "3")
	require.NoError(t, err)

	assert.Equal(t, "address,status\n8,true\n9,false\n10,true\n", out)
}

func TestAppReadFileRecord(t *testing.T) {
	h := &fakeHandler{respond: reply(6, 5, 6, 0x00, 0x0A, 0xBE, 0xEF)}
	out, err := runApp(t, h, "", "read", "file-record", "1", "0", "2")
	require.NoError(t, err)

	assert.Equal(t, "offset\tvalue\n0000:\tA BEEF\n", out)
	assert.Equal(t, byte(modbus.FuncCodeReadFileRecord), h.requests[0].FunctionCode)
	assert.Equal(t, []byte{7, 6, 0, 1, 0, 0, 0, 2}, h.requests[0].Data)
}

func TestAppReadFIFOQueue(t *testing.T) {
	h := &fakeHandler{respond: reply(0, 6, 0, 2, 0, 1, 0xAB, 0xCD)}
	out, err := runApp(t, h, "", "read", "fifo-queue", "0x04D2")
	require.NoError(t, err)

	assert.Equal(t, "offset\tvalue\n0\t0x01\n1\t0xabcd\n", out)
	assert.Equal(t, []byte{0x04, 0xD2}, h.requests[0].Data)
}

func TestAppReadDeviceIDJSON(t *testing.T) {
	h := &fakeHandler{respond: reply(0x0E, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x03, 'a', 'b', 'c')}
	out, err := runApp(t, h, "", "--format", "json", "read", "device-id")
	require.NoError(t, err)

	assert.Equal(t, `{"conformity_level":"basic","object_id":"0","value":"abc"}`+"\n", out)
	assert.Equal(t, []byte{0x0E, 0x01, 0x00}, h.requests[0].Data)
}

func TestAppReadDeviceIDInvalidUTF8(t *testing.T) {
	h := &fakeHandler{respond: reply(0x0E, 0x01, 0x01, 0x00, 0x00, 0x01, 0x02, 0x01, 0xFF)}
	out, err := runApp(t, h, "", "read", "device-id", "--code", "individual", "--object-id", "2")
	require.Error(t, err)

	assert.Empty(t, out)
	assert.Equal(t, []byte{0x0E, 0x04, 0x02}, h.requests[0].Data)
}

func TestAppWriteRegisters(t *testing.T) {
	h := &fakeHandler{respond: echo}
	out, err := runApp(t, h, "", "write", "registers", "--type", "uint32", "5", "65536")
	require.NoError(t, err)

	assert.Equal(t, "status\nsuccess\n", out)
	assert.Equal(t, byte(modbus.FuncCodeWriteMultipleRegisters), h.requests[0].FunctionCode)
	assert.Equal(t, []byte{0, 5, 0, 2, 4, 0, 1, 0, 0}, h.requests[0].Data)
}

func TestAppWriteSingleRegister(t *testing.T) {
	h := &fakeHandler{respond: echo}
	_, err := runApp(t, h, "", "write", "register", "7", "300")
	require.NoError(t, err)

	assert.Equal(t, byte(modbus.FuncCodeWriteSingleRegister), h.requests[0].FunctionCode)
	assert.Equal(t, []byte{0, 7, 0x01, 0x2C}, h.requests[0].Data)
}

func TestAppWriteCoils(t *testing.T) {
	h := &fakeHandler{respond: echo}
	_, err := runApp(t, h, "", "write", "coils", "0", "on", "off", "1", "true")
	require.NoError(t, err)

	assert.Equal(t, []byte{0, 0, 0, 4, 1, 0x0D}, h.requests[0].Data)

	h = &fakeHandler{respond: echo}
	_, err = runApp(t, h, "", "write", "coil", "3", "on")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 3, 0xFF, 0}, h.requests[0].Data)
}

func TestAppWriteFileRecord(t *testing.T) {
	h := &fakeHandler{respond: func(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
		return req, nil
	}}
	out, err := runApp(t, h, "", "write", "file-record", "4", "1", "0x1234")
	require.NoError(t, err)

	assert.Equal(t, "status\nsuccess\n", out)
	assert.Equal(t, []byte{9, 6, 0, 4, 0, 1, 0, 1, 0x12, 0x34}, h.requests[0].Data)
}

func TestAppCustom(t *testing.T) {
	h := &fakeHandler{respond: reply(0xAA, 0x55)}
	out, err := runApp(t, h, "\x41\x01\x02", "custom")
	require.NoError(t, err)

	assert.Equal(t, "function_code\toffset\tvalue\n0x41\t0\t0xAA\n0x41\t1\t0x55\n", out)
	assert.Equal(t, byte(0x41), h.requests[0].FunctionCode)
	assert.Equal(t, []byte{0x01, 0x02}, h.requests[0].Data)
}

func TestAppCustomException(t *testing.T) {
	h := &fakeHandler{respond: func(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
		return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode | 0x80, Data: []byte{0x01}}, nil
	}}
	out, err := runApp(t, h, "\x41", "custom", "-")
	require.NoError(t, err)

	assert.Equal(t, "function_code\toffset\tvalue\n0xC1\t0\t0x01\n", out)
}

func TestAppCustomEmptyRequest(t *testing.T) {
	h := &fakeHandler{respond: reply()}
	_, err := runApp(t, h, "", "custom")
	assert.ErrorContains(t, err, "empty request")
	assert.Empty(t, h.requests)
}

func TestAppErrors(t *testing.T) {
	h := &fakeHandler{respond: func(*modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
		return nil, errors.New("boom")
	}}
	out, err := runApp(t, h, "", "read", "file-record", "1", "2", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file #1 record 2")
	var transportErr *modbus.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Empty(t, out)

	h = &fakeHandler{connectErr: errors.New("no route")}
	_, err = runApp(t, h, "", "read", "coils", "0", "1")
	assert.ErrorContains(t, err, "could not open 'tcp://127.0.0.1:502'")

	_, err = runApp(t, &fakeHandler{respond: reply()}, "", "read", "coils", "0")
	assert.ErrorContains(t, err, "missing argument <quantity>")

	_, err = runApp(t, &fakeHandler{respond: reply()}, "", "--format", "xml", "read", "coils", "0", "1")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestAppOptions(t *testing.T) {
	path := writeConfig(t, "uri: tcp://10.0.0.1:1502\nslave_id: 17\nformat: csv\n")
	h := &fakeHandler{respond: reply(2, 0, 1)}
	out, err := runApp(t, h, "", "--config", path, "--slave-id", "3", "--log-frame", "read", "holding-registers", "0", "1")
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.1:1502", h.opt.uri)
	assert.Equal(t, 3, h.opt.slaveID)
	assert.Equal(t, "csv", h.opt.format)
	assert.NotNil(t, h.opt.logger)
	assert.Equal(t, "address,value\n0,0x01\n", out)
}
