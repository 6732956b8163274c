// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256

	rtuExceptionSize = 5
)

// RTUClientHandler implements Packager and Transporter interface.
type RTUClientHandler struct {
	rtuPackager
	rtuSerialTransporter
}

// NewRTUClientHandler allocates and initializes a RTUClientHandler.
func NewRTUClientHandler(address string) *RTUClientHandler {
	handler := &RTUClientHandler{}
	handler.Address = address
	handler.Timeout = serialTimeout
	handler.IdleTimeout = serialIdleTimeout
	return handler
}

// RTUClient creates RTU client with default handler and given connect string.
func RTUClient(address string) Client {
	handler := NewRTUClientHandler(address)
	return NewClient(handler)
}

// rtuPackager implements Packager interface.
type rtuPackager struct {
	SlaveID byte
}

// SetSlave sets modbus slave id for the next client operations
func (mb *rtuPackager) SetSlave(slaveID byte) {
	mb.SlaveID = slaveID
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 byte
func (mb *rtuPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, rtuMaxSize)
		return
	}
	adu = make([]byte, length)

	adu[0] = mb.SlaveID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	// Append crc
	var crc crc
	crc.reset().pushBytes(adu[0 : length-2])
	checksum := crc.value()

	adu[length-1] = byte(checksum >> 8)
	adu[length-2] = byte(checksum)
	return
}

// Verify verifies response length and slave id.
func (mb *rtuPackager) Verify(aduRequest []byte, aduResponse []byte) (err error) {
	length := len(aduResponse)
	// Minimum size (including address, function and CRC)
	if length < rtuMinSize {
		err = fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", length, rtuMinSize)
		return
	}
	// Slave address must match
	if aduResponse[0] != aduRequest[0] {
		err = fmt.Errorf("modbus: response slave id '%v' does not match request '%v'", aduResponse[0], aduRequest[0])
		return
	}
	return
}

// Decode extracts PDU from RTU frame and verify CRC.
func (mb *rtuPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	length := len(adu)
	if length < rtuMinSize {
		err = fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", length, rtuMinSize)
		return
	}
	// Calculate checksum
	var crc crc
	crc.reset().pushBytes(adu[0 : length-2])
	checksum := uint16(adu[length-1])<<8 | uint16(adu[length-2])
	if checksum != crc.value() {
		err = fmt.Errorf("modbus: response crc '%v' does not match expected '%v'", checksum, crc.value())
		return
	}
	// Function code & data
	pdu = &ProtocolDataUnit{}
	pdu.FunctionCode = adu[1]
	pdu.Data = adu[2 : length-2]
	return
}

// rtuSerialTransporter implements Transporter interface.
type rtuSerialTransporter struct {
	serialPort
}

// InvalidLengthError is returned by readIncrementally when the modbus response would overflow buffer
// implemented to simplify testing
type InvalidLengthError struct {
	length int // length received which triggered the error
}

// Error implements the error interface
func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.length)
}

// rtuFrameLength returns the size of the response frame starting with adu,
// CRC included, or 0 while too few bytes have arrived to tell.
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Payload         : function specific size
//	CRC             : 2 byte
func rtuFrameLength(adu []byte) (int, error) {
	if len(adu) < 2 {
		return 0, nil
	}
	functionCode := adu[1]
	if functionCode&exceptionFlag != 0 {
		return rtuExceptionSize, nil
	}
	switch functionCode {
	case FuncCodeReadDiscreteInputs,
		FuncCodeReadCoils,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadInputRegisters,
		FuncCodeReadWriteMultipleRegisters,
		FuncCodeReadFileRecord,
		FuncCodeWriteFileRecord:
		// byte count
		if len(adu) < 3 {
			return 0, nil
		}
		count := int(adu[2])
		// max length = rtuMaxSize - SlaveID(1) - FunctionCode(1) - length(1) - CRC(2)
		if count == 0 || count > rtuMaxSize-5 {
			return 0, &InvalidLengthError{length: count}
		}
		return 3 + count + 2, nil
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegisters,
		FuncCodeWriteMultipleCoils:
		return 2 + 4 + 2, nil
	case FuncCodeMaskWriteRegister:
		return 2 + 6 + 2, nil
	case FuncCodeReadFIFOQueue:
		// two byte count
		if len(adu) < 4 {
			return 0, nil
		}
		count := int(binary.BigEndian.Uint16(adu[2:]))
		if count < 2 || count > rtuMaxSize-6 {
			return 0, &InvalidLengthError{length: count}
		}
		return 4 + count + 2, nil
	case FuncCodeEncapsulatedInterface:
		return meiFrameLength(adu)
	default:
		return 0, fmt.Errorf("functioncode not handled: %d", functionCode)
	}
}

// meiFrameLength sizes a Read Device Identification response by walking the
// object list as it arrives.
func meiFrameLength(adu []byte) (int, error) {
	const headerEnd = 2 + deviceIDHeaderSize
	if len(adu) < 3 {
		return 0, nil
	}
	if adu[2] != MEITypeReadDeviceIdentification {
		return 0, fmt.Errorf("mei type not handled: %d", adu[2])
	}
	if len(adu) < headerEnd {
		return 0, nil
	}
	offset := headerEnd
	for i := 0; i < int(adu[headerEnd-1]); i++ {
		if len(adu) < offset+2 {
			return 0, nil
		}
		offset += 2 + int(adu[offset+1])
		if offset+2 > rtuMaxSize {
			return 0, &InvalidLengthError{length: offset - 2}
		}
	}
	return offset + 2, nil
}

// readIncrementally reads a response frame byte by byte until its announced
// length is reached, skipping anything before the slave id and function code.
func readIncrementally(ctx context.Context, slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	data := make([]byte, 0, rtuMaxSize)
	buf := make([]byte, 1)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) { // Possible that serialport may spew data
			return nil, fmt.Errorf("failed to read from serial port within deadline")
		}
		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}
		switch len(data) {
		case 0:
			if buf[0] != slaveID {
				continue
			}
		case 1:
			if buf[0] != functionCode && buf[0] != functionCode|exceptionFlag {
				continue
			}
		}
		data = append(data, buf[0])

		length, err := rtuFrameLength(data)
		if err != nil {
			return nil, err
		}
		if length > 0 && len(data) >= length {
			return data, nil
		}
	}
}

func (mb *rtuSerialTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	// Make sure port is connected
	if err = mb.connect(); err != nil {
		return
	}
	// Start the timer to close when idle
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	// Send the request
	mb.logf("modbus: send % x\n", aduRequest)
	if _, err = mb.port.Write(aduRequest); err != nil {
		return
	}
	bytesToRead := calculateResponseLength(aduRequest)
	select {
	case <-time.After(mb.calculateDelay(len(aduRequest) + bytesToRead)):
	case <-ctx.Done():
		err = ctx.Err()
		return
	}

	deadline := time.Now().Add(mb.Config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	aduResponse, err = readIncrementally(ctx, aduRequest[0], aduRequest[1], mb.port, deadline)
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			err = cerr
		}
		return
	}
	mb.logf("modbus: recv % x\n", aduResponse)
	return
}

// charDuration is the time a character of 11 bits occupies on the line.
func (mb *rtuSerialTransporter) charDuration() time.Duration {
	return time.Duration(float64(time.Second) / float64(mb.BaudRate) * 11)
}

// characterDelay is the maximum gap between two characters (t1.5).
func (mb *rtuSerialTransporter) characterDelay() time.Duration {
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 750 * time.Microsecond
	}
	return mb.charDuration() * 3 / 2
}

// frameDelay is the minimum silence between two frames (t3.5).
func (mb *rtuSerialTransporter) frameDelay() time.Duration {
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return mb.charDuration() * 7 / 2
}

// calculateDelay roughly calculates time needed for the next frame.
// See MODBUS over Serial Line - Specification and Implementation Guide (page 13).
func (mb *rtuSerialTransporter) calculateDelay(chars int) time.Duration {
	return mb.characterDelay()*time.Duration(chars) + mb.frameDelay()
}

// calculateResponseLength estimates the response size from the request.
// Variable sized responses count as their minimum.
func calculateResponseLength(adu []byte) int {
	length := rtuMinSize
	switch adu[1] {
	case FuncCodeReadDiscreteInputs,
		FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case FuncCodeReadInputRegisters,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegisters:
		length += 4
	case FuncCodeMaskWriteRegister:
		length += 6
	case FuncCodeReadFileRecord:
		// byte counts, reference type and the requested words
		count := int(binary.BigEndian.Uint16(adu[8:]))
		length += 3 + count*2
	case FuncCodeWriteFileRecord:
		// echo
		length = len(adu)
	case FuncCodeReadFIFOQueue:
		length += 4
	case FuncCodeEncapsulatedInterface:
		length += deviceIDHeaderSize
	default:
	}
	return length
}
