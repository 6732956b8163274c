// Package output shapes decoded Modbus responses into rows and renders them.
package output

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	modbus "github.com/grid-x/modbus-cli"
)

// wordsPerRow of a file record, so that every row covers 16 bytes like xxd.
const wordsPerRow = 8

// CommandResult is the tabular form of one operation.
// Each row lines up positionally with Columns.
type CommandResult struct {
	Columns []string
	Rows    [][]string
}

// EncodingError is returned when an identification object is not valid UTF-8.
type EncodingError struct {
	ObjectID uint8
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("output: failed to decode object '%v' as utf8", e.ObjectID)
}

// FileRecordResult renders 8 words per row, labelled with the byte offset of
// the first word.
func FileRecordResult(record *modbus.FileRecord) *CommandResult {
	res := &CommandResult{Columns: []string{"offset", "value"}}
	for i := 0; i < len(record.Words); i += wordsPerRow {
		end := min(i+wordsPerRow, len(record.Words))
		values := make([]string, 0, end-i)
		for _, w := range record.Words[i:end] {
			values = append(values, fmt.Sprintf("%X", w))
		}
		res.Rows = append(res.Rows, []string{fmt.Sprintf("%04d:", i*2), strings.Join(values, " ")})
	}
	return res
}

// FIFOQueueResult renders one row per queued register.
func FIFOQueueResult(values []uint16) *CommandResult {
	res := &CommandResult{Columns: []string{"offset", "value"}}
	for i, v := range values {
		res.Rows = append(res.Rows, []string{strconv.Itoa(i), fmt.Sprintf("0x%02x", v)})
	}
	return res
}

// DeviceIdentificationResult renders one row per object. It fails on the
// first object whose value is not valid UTF-8.
func DeviceIdentificationResult(id *modbus.DeviceIdentification) (*CommandResult, error) {
	res := &CommandResult{Columns: []string{"object_id", "value", "conformity_level"}}
	for _, o := range id.Objects {
		if !utf8.Valid(o.Value) {
			return nil, &EncodingError{ObjectID: o.ID}
		}
		res.Rows = append(res.Rows, []string{
			strconv.Itoa(int(o.ID)),
			string(o.Value),
			id.ConformityLevel.String(),
		})
	}
	return res, nil
}

// BitsResult renders quantity bits of a coil or discrete input response,
// least significant bit of the first byte first.
func BitsResult(address, quantity uint16, data []byte) *CommandResult {
	res := &CommandResult{Columns: []string{"address", "status"}}
	for i := 0; i < int(quantity) && i/8 < len(data); i++ {
		on := data[i/8]&(1<<(uint(i)%8)) != 0
		res.Rows = append(res.Rows, []string{strconv.Itoa(int(address) + i), strconv.FormatBool(on)})
	}
	return res
}

// RegistersResult renders one row per register.
func RegistersResult(address uint16, values []uint16) *CommandResult {
	res := &CommandResult{Columns: []string{"address", "value"}}
	for i, v := range values {
		res.Rows = append(res.Rows, []string{strconv.Itoa(int(address) + i), fmt.Sprintf("0x%02x", v)})
	}
	return res
}

// StatusResult is the result of every successful write.
func StatusResult() *CommandResult {
	return &CommandResult{Columns: []string{"status"}, Rows: [][]string{{"success"}}}
}

// RawResult renders the payload of a custom response, one byte per row.
func RawResult(pdu *modbus.ProtocolDataUnit) *CommandResult {
	res := &CommandResult{Columns: []string{"function_code", "offset", "value"}}
	fc := fmt.Sprintf("0x%02X", pdu.FunctionCode)
	for i, b := range pdu.Data {
		res.Rows = append(res.Rows, []string{fc, strconv.Itoa(i), fmt.Sprintf("0x%02X", b)})
	}
	return res
}
