// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license.  See the LICENSE file for details.

// Package test runs the clients against a diagslave instance. Every test is
// skipped when the device is not reachable.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modbus "github.com/grid-x/modbus-cli"
)

const slaveID = 17

// ClientTestAll exercises the standard function codes diagslave supports.
func ClientTestAll(t *testing.T, client modbus.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := client.WriteMultipleRegisters(ctx, 1, 2, []byte{0, 3, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 2}, results)

	results, err = client.ReadHoldingRegisters(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 3, 0, 4}, results)

	results, err = client.WriteSingleRegister(ctx, 3, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, results)

	results, err = client.WriteMultipleCoils(ctx, 5, 10, []byte{4, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 10}, results)

	results, err = client.ReadCoils(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 3}, results)

	results, err = client.WriteSingleCoil(ctx, 0, 0xFF00)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x00}, results)

	_, err = client.ReadDiscreteInputs(ctx, 0, 16)
	require.NoError(t, err)
	_, err = client.ReadInputRegisters(ctx, 0, 4)
	require.NoError(t, err)
}

// ExtensionTestAll runs the extension function codes, skipping the ones the
// device reports as unsupported.
func ExtensionTestAll(t *testing.T, client modbus.Client) {
	ext := modbus.NewExtensionClient(client)

	skipUnsupported := func(t *testing.T, err error) {
		var mbErr *modbus.Error
		if errors.As(err, &mbErr) && mbErr.ExceptionCode == modbus.ExceptionCodeIllegalFunction {
			t.Skipf("not supported by the device: %v", err)
		}
	}

	t.Run("file record", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := ext.WriteFileRecord(ctx, 1, 0, []uint16{0xCAFE, 0xBEEF})
		skipUnsupported(t, err)
		require.NoError(t, err)
		record, err := ext.ReadFileRecord(ctx, 1, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0xCAFE, 0xBEEF}, record.Words)
	})

	t.Run("fifo queue", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := ext.ReadFIFOQueue(ctx, 0)
		skipUnsupported(t, err)
		require.NoError(t, err)
	})

	t.Run("device identification", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		id, err := ext.ReadAllDeviceIdentification(ctx, modbus.ReadDeviceIDCodeBasic, 0)
		skipUnsupported(t, err)
		require.NoError(t, err)
		assert.NotEmpty(t, id.Objects)
	})
}
