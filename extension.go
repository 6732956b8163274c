package modbus

import (
	"bytes"
	"context"
	"fmt"
)

// ExtensionClient issues the function codes that have no dedicated method on
// Client (file records, FIFO queues and device identification) on top of
// the raw Call primitive.
type ExtensionClient struct {
	caller Caller
}

// NewExtensionClient wraps caller, usually a Client.
func NewExtensionClient(caller Caller) *ExtensionClient {
	return &ExtensionClient{caller: caller}
}

// ReadFileRecord reads recordLength words of a record, starting at
// recordNumber, from file fileNumber. Exactly one sub-request is issued.
//
// Request:
//
//	Function code         : 1 byte (0x14)
//	Byte count            : 1 byte (0x07)
//	Reference type        : 1 byte (0x06)
//	File number           : 2 bytes
//	Record number         : 2 bytes
//	Record length         : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x14)
//	Response data length  : 1 byte
//	File response length  : 1 byte
//	Reference type        : 1 byte (0x06)
//	Record data           : Nx2 bytes
func (mb *ExtensionClient) ReadFileRecord(ctx context.Context, fileNumber, recordNumber, recordLength uint16) (*FileRecord, error) {
	if recordNumber > fileRecordMaxNumber {
		return nil, fmt.Errorf("modbus: record number '%v' must be between '%v' and '%v',", recordNumber, 0, fileRecordMaxNumber)
	}
	if err := checkQuantity("record length", recordLength, 1, fileRecordMaxLength); err != nil {
		return nil, err
	}
	payload, err := mb.call(ctx, FuncCodeReadFileRecord, readFileRecordRequest(fileNumber, recordNumber, recordLength))
	if err != nil {
		return nil, err
	}
	return decodeFileRecord(payload)
}

// WriteFileRecord writes words into file fileNumber starting at recordNumber.
//
// Request:
//
//	Function code         : 1 byte (0x15)
//	Request data length   : 1 byte
//	Reference type        : 1 byte (0x06)
//	File number           : 2 bytes
//	Record number         : 2 bytes
//	Record length         : 2 bytes
//	Record data           : Nx2 bytes
//
// Response: echo of the request.
func (mb *ExtensionClient) WriteFileRecord(ctx context.Context, fileNumber, recordNumber uint16, words []uint16) error {
	if recordNumber > fileRecordMaxNumber {
		return fmt.Errorf("modbus: record number '%v' must be between '%v' and '%v',", recordNumber, 0, fileRecordMaxNumber)
	}
	if len(words) < 1 || len(words) > fileRecordMaxLength-2 {
		return fmt.Errorf("modbus: record length '%v' must be between '%v' and '%v',", len(words), 1, fileRecordMaxLength-2)
	}
	request := writeFileRecordRequest(fileNumber, recordNumber, words)
	payload, err := mb.call(ctx, FuncCodeWriteFileRecord, request)
	if err != nil {
		return err
	}
	if !bytes.Equal(request, payload) {
		return fmt.Errorf("modbus: response data '% x' does not match request '% x'", payload, request)
	}
	return nil
}

// ReadFIFOQueue reads the contents of a First-In-First-Out (FIFO) queue of
// registers without clearing it.
//
// Request:
//
//	Function code         : 1 byte (0x18)
//	FIFO pointer address  : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x18)
//	Byte count            : 2 bytes
//	FIFO count            : 2 bytes (<=31)
//	FIFO value register   : Nx2 bytes
func (mb *ExtensionClient) ReadFIFOQueue(ctx context.Context, pointerAddress uint16) ([]uint16, error) {
	payload, err := mb.call(ctx, FuncCodeReadFIFOQueue, encodeReadFIFOQueue(pointerAddress))
	if err != nil {
		return nil, err
	}
	return decodeFIFOQueue(payload)
}

// ReadDeviceIdentification reads one response worth of identification objects
// using function code 0x2B, MEI type 0x0E.
//
// Request:
//
//	Function code         : 1 byte (0x2B)
//	MEI type              : 1 byte (0x0E)
//	Read device ID code   : 1 byte
//	Object ID             : 1 byte
//
// Response:
//
//	Function code         : 1 byte (0x2B)
//	MEI type              : 1 byte (0x0E)
//	Read device ID code   : 1 byte
//	Conformity level      : 1 byte
//	More follows          : 1 byte
//	Next object ID        : 1 byte
//	Number of objects     : 1 byte
//	List of objects       : (ID, length, value) x number of objects
func (mb *ExtensionClient) ReadDeviceIdentification(ctx context.Context, code ReadDeviceIDCode, objectID byte) (*DeviceIdentification, error) {
	if readDeviceIDCodeFromByte(byte(code)) == ReadDeviceIDCodeUnknown {
		return nil, fmt.Errorf("modbus: read device id code '%v' must be between '%v' and '%v'", byte(code), 1, 4)
	}
	payload, err := mb.call(ctx, FuncCodeEncapsulatedInterface, encodeReadDeviceIdentification(code, objectID))
	if err != nil {
		return nil, err
	}
	return decodeDeviceIdentification(payload)
}

// ReadAllDeviceIdentification behaves like ReadDeviceIdentification but keeps
// requesting from NextObjectID while the device reports more objects. The
// returned header is the one of the first response, with MoreFollows cleared
// and the objects of all responses concatenated.
func (mb *ExtensionClient) ReadAllDeviceIdentification(ctx context.Context, code ReadDeviceIDCode, objectID byte) (*DeviceIdentification, error) {
	first, err := mb.ReadDeviceIdentification(ctx, code, objectID)
	if err != nil {
		return nil, err
	}
	result := *first
	result.Objects = append([]DeviceIDObject(nil), first.Objects...)
	last := first
	for code != ReadDeviceIDCodeIndividual && last.MoreFollows == deviceIDMoreFollows {
		// A device restarting from an object already seen would never terminate.
		if last.NextObjectID <= objectID {
			return nil, fmt.Errorf("modbus: next object id '%v' does not advance past '%v'", last.NextObjectID, objectID)
		}
		objectID = last.NextObjectID
		if last, err = mb.ReadDeviceIdentification(ctx, code, objectID); err != nil {
			return nil, err
		}
		result.Objects = append(result.Objects, last.Objects...)
	}
	result.MoreFollows = 0
	result.NextObjectID = 0
	result.NumberOfObjects = uint8(len(result.Objects))
	return &result, nil
}

// call performs a raw request and returns the response payload. Exception
// responses become *Error, failures below the PDU layer *TransportError.
func (mb *ExtensionClient) call(ctx context.Context, functionCode byte, data []byte) ([]byte, error) {
	response, err := mb.caller.Call(ctx, &ProtocolDataUnit{FunctionCode: functionCode, Data: data})
	if err != nil {
		return nil, &TransportError{FunctionCode: functionCode, Err: err}
	}
	if err := checkResponse(functionCode, response); err != nil {
		return nil, err
	}
	return response.Data, nil
}
