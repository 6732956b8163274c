// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTUEncoding(t *testing.T) {
	encoder := rtuPackager{}
	encoder.SlaveID = 0x01

	pdu := ProtocolDataUnit{}
	pdu.FunctionCode = 0x03
	pdu.Data = []byte{0x50, 0x00, 0x00, 0x18}

	adu, err := encoder.Encode(&pdu)
	require.NoError(t, err)
	expected := []byte{0x01, 0x03, 0x50, 0x00, 0x00, 0x18, 0x54, 0xC0}
	assert.Equal(t, expected, adu)
}

func TestRTUDecoding(t *testing.T) {
	decoder := rtuPackager{}
	adu := []byte{0x01, 0x10, 0x8A, 0x00, 0x00, 0x03, 0xAA, 0x10}

	pdu, err := decoder.Decode(adu)
	require.NoError(t, err)
	assert.Equal(t, byte(16), pdu.FunctionCode)
	assert.Equal(t, []byte{0x8A, 0x00, 0x00, 0x03}, pdu.Data)
}

func TestRTUDecodingCRCMismatch(t *testing.T) {
	decoder := rtuPackager{}
	_, err := decoder.Decode([]byte{0x01, 0x10, 0x8A, 0x00, 0x00, 0x03, 0xAA, 0x11})
	assert.ErrorContains(t, err, "crc")
}

func TestRTUVerify(t *testing.T) {
	packager := rtuPackager{}
	assert.Error(t, packager.Verify([]byte{0x01, 0x03}, []byte{0x01, 0x03, 0x00}))
	assert.Error(t, packager.Verify([]byte{0x01, 0x03}, []byte{0x02, 0x03, 0x00, 0x00}))
	assert.NoError(t, packager.Verify([]byte{0x01, 0x03}, []byte{0x01, 0x03, 0x00, 0x00}))
}

func rtuFrame(t *testing.T, slaveID, functionCode byte, data ...byte) []byte {
	t.Helper()
	packager := rtuPackager{SlaveID: slaveID}
	adu, err := packager.Encode(&ProtocolDataUnit{FunctionCode: functionCode, Data: data})
	require.NoError(t, err)
	return adu
}

func TestReadIncrementally(t *testing.T) {
	tests := []struct {
		name         string
		functionCode byte
		frame        []byte
	}{
		{
			name:         "holding registers",
			functionCode: FuncCodeReadHoldingRegisters,
			frame:        rtuFrame(t, 1, FuncCodeReadHoldingRegisters, 0x04, 0x00, 0x01, 0x00, 0x02),
		},
		{
			name:         "exception",
			functionCode: FuncCodeReadHoldingRegisters,
			frame:        rtuFrame(t, 1, FuncCodeReadHoldingRegisters|0x80, ExceptionCodeIllegalDataAddress),
		},
		{
			name:         "write single register",
			functionCode: FuncCodeWriteSingleRegister,
			frame:        rtuFrame(t, 1, FuncCodeWriteSingleRegister, 0x00, 0x01, 0x00, 0x03),
		},
		{
			name:         "mask write register",
			functionCode: FuncCodeMaskWriteRegister,
			frame:        rtuFrame(t, 1, FuncCodeMaskWriteRegister, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25),
		},
		{
			name:         "file record",
			functionCode: FuncCodeReadFileRecord,
			frame:        rtuFrame(t, 1, FuncCodeReadFileRecord, 0x04, 0x03, 0x06, 0x12, 0x34),
		},
		{
			name:         "fifo queue",
			functionCode: FuncCodeReadFIFOQueue,
			frame:        rtuFrame(t, 1, FuncCodeReadFIFOQueue, 0x00, 0x06, 0x00, 0x02, 0x01, 0xB8, 0x12, 0x84),
		},
		{
			name:         "device identification",
			functionCode: FuncCodeEncapsulatedInterface,
			frame: rtuFrame(t, 1, FuncCodeEncapsulatedInterface,
				0x0E, 0x01, 0x01, 0x00, 0x00, 0x02,
				0x00, 0x03, 'a', 'b', 'c',
				0x01, 0x02, 'x', 'y'),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			noise := []byte{0x00, 0x07}
			// a trailing frame must stay unread
			trailing := []byte{0x01, 0x03, 0x02, 0x00, 0x00}
			stream := append(append(append([]byte{}, noise...), tc.frame...), trailing...)

			r := bytes.NewReader(stream)
			got, err := readIncrementally(context.Background(), 1, tc.functionCode, r, time.Now().Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, tc.frame, got)
			assert.Equal(t, len(trailing), r.Len())
		})
	}
}

func TestReadIncrementallyInvalidLength(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x03, 0x00, 0x00, 0x00})
	_, err := readIncrementally(context.Background(), 1, FuncCodeReadHoldingRegisters, r, time.Now().Add(time.Second))

	var lengthErr *InvalidLengthError
	require.ErrorAs(t, err, &lengthErr)
	assert.Equal(t, 0, lengthErr.length)
}

func TestReadIncrementallyUnhandledFunctionCode(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x41, 0x00, 0x00})
	_, err := readIncrementally(context.Background(), 1, 0x41, r, time.Now().Add(time.Second))
	assert.ErrorContains(t, err, "functioncode not handled")
}

func TestReadIncrementallyUnhandledMEIType(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, FuncCodeEncapsulatedInterface, 0x0D, 0x00})
	_, err := readIncrementally(context.Background(), 1, FuncCodeEncapsulatedInterface, r, time.Now().Add(time.Second))
	assert.ErrorContains(t, err, "mei type not handled")
}

func TestReadIncrementallyEOF(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x03, 0x04, 0x00})
	_, err := readIncrementally(context.Background(), 1, FuncCodeReadHoldingRegisters, r, time.Now().Add(time.Second))
	assert.True(t, errors.Is(err, io.EOF), "expected EOF, got %v", err)
}

func TestReadIncrementallyDeadline(t *testing.T) {
	r := bytes.NewReader([]byte{0x01, 0x03, 0x02, 0x00, 0x00, 0x00, 0x00})
	_, err := readIncrementally(context.Background(), 1, FuncCodeReadHoldingRegisters, r, time.Now().Add(-time.Second))
	assert.ErrorContains(t, err, "deadline")
}

func TestReadIncrementallyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := bytes.NewReader([]byte{0x01, 0x03, 0x02, 0x00, 0x00, 0x00, 0x00})
	_, err := readIncrementally(ctx, 1, FuncCodeReadHoldingRegisters, r, time.Now().Add(time.Second))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadIncrementallyNilReader(t *testing.T) {
	_, err := readIncrementally(context.Background(), 1, FuncCodeReadHoldingRegisters, nil, time.Now().Add(time.Second))
	assert.Error(t, err)
}

func TestCalculateResponseLength(t *testing.T) {
	tests := []struct {
		name string
		adu  []byte
		want int
	}{
		{"read coils", []byte{0x01, FuncCodeReadCoils, 0x00, 0x00, 0x00, 0x0A, 0x00, 0x00}, 4 + 1 + 2},
		{"read holding registers", []byte{0x01, FuncCodeReadHoldingRegisters, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00}, 4 + 1 + 6},
		{"write single register", []byte{0x01, FuncCodeWriteSingleRegister, 0x00, 0x01, 0x00, 0x03, 0x00, 0x00}, 8},
		{"mask write register", []byte{0x01, FuncCodeMaskWriteRegister, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25, 0x00, 0x00}, 10},
		{"read file record", []byte{0x01, FuncCodeReadFileRecord, 0x07, 0x06, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00}, 4 + 3 + 4},
		{"write file record", []byte{0x01, FuncCodeWriteFileRecord, 0x09, 0x06, 0x00, 0x04, 0x00, 0x07, 0x00, 0x01, 0x06, 0xAF, 0x00, 0x00}, 14},
		{"read fifo queue", []byte{0x01, FuncCodeReadFIFOQueue, 0x04, 0xDE, 0x00, 0x00}, 8},
		{"device identification", []byte{0x01, FuncCodeEncapsulatedInterface, 0x0E, 0x01, 0x00, 0x00, 0x00}, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, calculateResponseLength(tc.adu))
		})
	}
}
