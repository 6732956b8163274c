package modbus

import "fmt"

const (
	fileRecordHeaderSize = 3
	fileRecordMinSize    = 5
	// A file holds records 0 to 9999 (0x270F).
	fileRecordMaxNumber = 9999
	// Largest record that still fits a single response PDU.
	fileRecordMaxLength = 124
)

// FileRecord is the decoded sub-response of a Read File Record request.
type FileRecord struct {
	// ResponseDataLength is the byte count declared for the whole response.
	ResponseDataLength uint8
	// FileResponseLength is the length field of the file sub-response.
	FileResponseLength uint8
	// ReferenceType echoes the request, always 6.
	ReferenceType uint8
	// Words holds the record data.
	Words []uint16
}

// encodeReadFileRecord builds a single sub-request:
//
//	Reference type        : 1 byte (0x06)
//	File number           : 2 bytes
//	Record number         : 2 bytes
//	Record length         : 2 bytes
func encodeReadFileRecord(fileNumber, recordNumber, recordLength uint16) []byte {
	return append([]byte{FileRecordReferenceType}, dataBlock(fileNumber, recordNumber, recordLength)...)
}

// readFileRecordRequest prefixes the sub-request with its byte count (0x07).
func readFileRecordRequest(fileNumber, recordNumber, recordLength uint16) []byte {
	sub := encodeReadFileRecord(fileNumber, recordNumber, recordLength)
	return append([]byte{byte(len(sub))}, sub...)
}

// decodeFileRecord parses:
//
//	Response data length  : 1 byte
//	File response length  : 1 byte
//	Reference type        : 1 byte (0x06)
//	Record data           : Nx2 bytes
func decodeFileRecord(payload []byte) (*FileRecord, error) {
	if len(payload) < fileRecordMinSize {
		return nil, fmt.Errorf("%w: response data size '%v' is less than expected '%v'", ErrTooShort, len(payload), fileRecordMinSize)
	}
	words, err := DecodeWords(payload[fileRecordHeaderSize:])
	if err != nil {
		return nil, err
	}
	return &FileRecord{
		ResponseDataLength: payload[0],
		FileResponseLength: payload[1],
		ReferenceType:      payload[2],
		Words:              words,
	}, nil
}

// writeFileRecordRequest builds a single sub-request carrying the record data:
//
//	Request data length   : 1 byte
//	Reference type        : 1 byte (0x06)
//	File number           : 2 bytes
//	Record number         : 2 bytes
//	Record length         : 2 bytes
//	Record data           : Nx2 bytes
func writeFileRecordRequest(fileNumber, recordNumber uint16, words []uint16) []byte {
	sub := append([]byte{FileRecordReferenceType}, dataBlock(fileNumber, recordNumber, uint16(len(words)))...)
	sub = append(sub, EncodeWords(words)...)
	return append([]byte{byte(len(sub))}, sub...)
}
