// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
)

// logger is the interface to the required logging functions
type logger interface {
	Printf(format string, v ...interface{})
}

// ClientHandler is the interface that groups the Packager and Transporter methods.
type ClientHandler interface {
	Packager
	Transporter
	Connector
}

type client struct {
	packager    Packager
	transporter Transporter
}

// NewClient creates a new modbus client with given backend handler.
func NewClient(handler ClientHandler) Client {
	return &client{packager: handler, transporter: handler}
}

// NewClient2 creates a new modbus client with given backend packager and transporter.
func NewClient2(packager Packager, transporter Transporter) Client {
	return &client{packager: packager, transporter: transporter}
}

// Request:
//
//	Function code         : 1 byte (0x01)
//	Starting address      : 2 bytes
//	Quantity of coils     : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x01)
//	Byte count            : 1 byte
//	Coil status           : N* bytes (=N or N+1)
func (mb *client) ReadCoils(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 2000); err != nil {
		return nil, err
	}
	return mb.readCounted(ctx, FuncCodeReadCoils, dataBlock(address, quantity))
}

// Request:
//
//	Function code         : 1 byte (0x02)
//	Starting address      : 2 bytes
//	Quantity of inputs    : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x02)
//	Byte count            : 1 byte
//	Input status          : N* bytes (=N or N+1)
func (mb *client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 2000); err != nil {
		return nil, err
	}
	return mb.readCounted(ctx, FuncCodeReadDiscreteInputs, dataBlock(address, quantity))
}

// Request:
//
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func (mb *client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 125); err != nil {
		return nil, err
	}
	return mb.readCounted(ctx, FuncCodeReadHoldingRegisters, dataBlock(address, quantity))
}

// Request:
//
//	Function code         : 1 byte (0x04)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x04)
//	Byte count            : 1 byte
//	Input registers       : N bytes
func (mb *client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 125); err != nil {
		return nil, err
	}
	return mb.readCounted(ctx, FuncCodeReadInputRegisters, dataBlock(address, quantity))
}

// Request:
//
//	Function code         : 1 byte (0x05)
//	Output address        : 2 bytes
//	Output value          : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x05)
//	Output address        : 2 bytes
//	Output value          : 2 bytes
func (mb *client) WriteSingleCoil(ctx context.Context, address, value uint16) ([]byte, error) {
	// The requested ON/OFF state can only be 0xFF00 and 0x0000
	if value != 0xFF00 && value != 0x0000 {
		return nil, fmt.Errorf("modbus: state '%v' must be either 0xFF00 (ON) or 0x0000 (OFF)", value)
	}
	return mb.writeEchoed(ctx, FuncCodeWriteSingleCoil, dataBlock(address, value), "value")
}

// Request:
//
//	Function code         : 1 byte (0x0F)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Outputs value         : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x0F)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
func (mb *client) WriteMultipleCoils(ctx context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 1968); err != nil {
		return nil, err
	}
	return mb.writeEchoed(ctx, FuncCodeWriteMultipleCoils, dataBlockSuffix(value, address, quantity), "quantity")
}

// Request:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
func (mb *client) WriteSingleRegister(ctx context.Context, address, value uint16) ([]byte, error) {
	return mb.writeEchoed(ctx, FuncCodeWriteSingleRegister, dataBlock(address, value), "value")
}

// Request:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func (mb *client) WriteMultipleRegisters(ctx context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	if err := checkQuantity("quantity", quantity, 1, 123); err != nil {
		return nil, err
	}
	return mb.writeEchoed(ctx, FuncCodeWriteMultipleRegisters, dataBlockSuffix(value, address, quantity), "quantity")
}

// Request:
//
//	Function code         : 1 byte (0x16)
//	Reference address     : 2 bytes
//	AND-mask              : 2 bytes
//	OR-mask               : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x16)
//	Reference address     : 2 bytes
//	AND-mask              : 2 bytes
//	OR-mask               : 2 bytes
func (mb *client) MaskWriteRegister(ctx context.Context, address, andMask, orMask uint16) ([]byte, error) {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeMaskWriteRegister,
		Data:         dataBlock(address, andMask, orMask),
	}
	response, err := mb.send(ctx, &request)
	if err != nil {
		return nil, err
	}
	if err := checkEcho(request.Data, response.Data, "address", "AND-mask", "OR-mask"); err != nil {
		return nil, err
	}
	return response.Data[2:], nil
}

// Request:
//
//	Function code         : 1 byte (0x17)
//	Read starting address : 2 bytes
//	Quantity to read      : 2 bytes
//	Write starting address: 2 bytes
//	Quantity to write     : 2 bytes
//	Write byte count      : 1 byte
//	Write registers value : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x17)
//	Byte count            : 1 byte
//	Read registers value  : Nx2 bytes
func (mb *client) ReadWriteMultipleRegisters(ctx context.Context, readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error) {
	if err := checkQuantity("quantity to read", readQuantity, 1, 125); err != nil {
		return nil, err
	}
	if err := checkQuantity("quantity to write", writeQuantity, 1, 121); err != nil {
		return nil, err
	}
	return mb.readCounted(ctx, FuncCodeReadWriteMultipleRegisters,
		dataBlockSuffix(value, readAddress, readQuantity, writeAddress, writeQuantity))
}

// Call encodes the request, sends it and decodes whatever PDU comes back.
func (mb *client) Call(ctx context.Context, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	aduRequest, err := mb.packager.Encode(request)
	if err != nil {
		return nil, err
	}
	aduResponse, err := mb.transporter.Send(ctx, aduRequest)
	if err != nil {
		return nil, err
	}
	if err := mb.packager.Verify(aduRequest, aduResponse); err != nil {
		return nil, err
	}
	return mb.packager.Decode(aduResponse)
}

// Helpers

// send sends request and checks possible exception in the response.
func (mb *client) send(ctx context.Context, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	response, err := mb.Call(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(request.FunctionCode, response); err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		// Empty response
		return nil, fmt.Errorf("modbus: response data is empty")
	}
	return response, nil
}

// readCounted sends a request whose response is a byte count followed by that many bytes.
func (mb *client) readCounted(ctx context.Context, functionCode byte, data []byte) ([]byte, error) {
	response, err := mb.send(ctx, &ProtocolDataUnit{FunctionCode: functionCode, Data: data})
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, fmt.Errorf("modbus: response data size '%v' does not match count '%v'", length, count)
	}
	return response.Data[1:], nil
}

// writeEchoed sends a write request whose response repeats address and value/quantity.
func (mb *client) writeEchoed(ctx context.Context, functionCode byte, data []byte, field string) ([]byte, error) {
	response, err := mb.send(ctx, &ProtocolDataUnit{FunctionCode: functionCode, Data: data})
	if err != nil {
		return nil, err
	}
	if err := checkEcho(data[:4], response.Data, "address", field); err != nil {
		return nil, err
	}
	return response.Data[2:], nil
}

// checkEcho compares the first len(fields) words of request and response.
func checkEcho(request, response []byte, fields ...string) error {
	if len(response) != 2*len(fields) {
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'", len(response), 2*len(fields))
	}
	for i, field := range fields {
		want := binary.BigEndian.Uint16(request[i*2:])
		got := binary.BigEndian.Uint16(response[i*2:])
		if want != got {
			return fmt.Errorf("modbus: response %s '%v' does not match request '%v'", field, got, want)
		}
	}
	return nil
}

func checkQuantity(name string, quantity, min, max uint16) error {
	if quantity < min || quantity > max {
		return fmt.Errorf("modbus: %s '%v' must be between '%v' and '%v',", name, quantity, min, max)
	}
	return nil
}

// checkResponse maps exception responses to *Error and foreign function codes
// to ErrUnexpectedResponse.
func checkResponse(functionCode byte, response *ProtocolDataUnit) error {
	switch response.FunctionCode {
	case functionCode:
		return nil
	case functionCode | exceptionFlag:
		return responseError(response)
	default:
		return fmt.Errorf("%w: function '%v' does not match request '%v'", ErrUnexpectedResponse, response.FunctionCode, functionCode)
	}
}

func responseError(response *ProtocolDataUnit) error {
	mbError := &Error{FunctionCode: response.FunctionCode}
	if len(response.Data) > 0 {
		mbError.ExceptionCode = response.Data[0]
	}
	return mbError
}
