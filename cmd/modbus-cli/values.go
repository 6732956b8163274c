package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// valueTypes lists the --type names accepted for register values.
var valueTypes = []string{"raw", "uint16", "int16", "uint32", "int32", "uint64", "int64", "float32", "float64"}

// valueSize returns the number of bytes a value of type eType occupies.
func valueSize(eType string) (int, error) {
	switch eType {
	case "raw", "uint16", "int16":
		return 2, nil
	case "uint32", "int32", "float32":
		return 4, nil
	case "uint64", "int64", "float64":
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported datatype: %s, expected one of %v", eType, valueTypes)
}

// resolveOrder applies a forced order (AB, BA, ABCD, DCBA, BADC, CDAB) to the
// default byte order. swap reports whether the two bytes of every register
// must be exchanged afterwards.
func resolveOrder(order binary.ByteOrder, forcedOrder string) (_ binary.ByteOrder, swap bool, err error) {
	switch fo := strings.ToUpper(forcedOrder); fo {
	case "":
		// nothing is forced
	case "AB", "ABCD":
		order = binary.BigEndian
	case "BA", "DCBA":
		order = binary.LittleEndian
	case "BADC":
		order, swap = binary.BigEndian, true
	case "CDAB":
		order, swap = binary.LittleEndian, true
	default:
		return nil, false, fmt.Errorf("forced order %s not known", fo)
	}
	return order, swap, nil
}

// swapRegisters exchanges the bytes of each register in place.
func swapRegisters(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}

// convertToBytes encodes val as eType in the register byte order.
func convertToBytes(eType string, order binary.ByteOrder, forcedOrder string, val float64) ([]byte, error) {
	order, swap, err := resolveOrder(order, forcedOrder)
	if err != nil {
		return nil, err
	}

	var v any
	switch eType {
	case "raw", "uint16":
		if val > math.MaxUint16 || val < 0 {
			return nil, overflowError(val, eType)
		}
		v = uint16(val)
	case "int16":
		if val > math.MaxInt16 || val < math.MinInt16 {
			return nil, overflowError(val, eType)
		}
		v = int16(val)
	case "uint32":
		if val > math.MaxUint32 || val < 0 {
			return nil, overflowError(val, eType)
		}
		v = uint32(val)
	case "int32":
		if val > math.MaxInt32 || val < math.MinInt32 {
			return nil, overflowError(val, eType)
		}
		v = int32(val)
	case "uint64":
		if val >= math.MaxUint64 || val < 0 {
			return nil, overflowError(val, eType)
		}
		v = uint64(val)
	case "int64":
		if val >= math.MaxInt64 || val < math.MinInt64 {
			return nil, overflowError(val, eType)
		}
		v = int64(val)
	case "float32":
		if val > math.MaxFloat32 || val < -math.MaxFloat32 {
			return nil, overflowError(val, eType)
		}
		v = float32(val)
	case "float64":
		v = val
	default:
		_, err := valueSize(eType)
		return nil, err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, order, v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if swap && len(b) >= 4 {
		swapRegisters(b)
	}
	return b, nil
}

func overflowError(val float64, eType string) error {
	return fmt.Errorf("overflow: %f does not fit into datatype %s", val, eType)
}

// convertFromBytes decodes one value of eType from r.
func convertFromBytes(r []byte, order binary.ByteOrder, forcedOrder string, eType string) (string, error) {
	order, swap, err := resolveOrder(order, forcedOrder)
	if err != nil {
		return "", err
	}
	size, err := valueSize(eType)
	if err != nil {
		return "", err
	}
	if len(r) != size {
		return "", fmt.Errorf("can't convert data with length %d to %s", len(r), eType)
	}
	if swap && len(r) >= 4 {
		r = append([]byte(nil), r...)
		swapRegisters(r)
	}

	switch eType {
	case "raw":
		return fmt.Sprintf("0x%02x", order.Uint16(r)), nil
	case "uint16":
		return fmt.Sprintf("%d", order.Uint16(r)), nil
	case "int16":
		return fmt.Sprintf("%d", int16(order.Uint16(r))), nil
	case "uint32":
		return fmt.Sprintf("%d", order.Uint32(r)), nil
	case "int32":
		return fmt.Sprintf("%d", int32(order.Uint32(r))), nil
	case "uint64":
		return fmt.Sprintf("%d", order.Uint64(r)), nil
	case "int64":
		return fmt.Sprintf("%d", int64(order.Uint64(r))), nil
	case "float32":
		return fmt.Sprintf("%f", math.Float32frombits(order.Uint32(r))), nil
	default: // float64
		return fmt.Sprintf("%f", math.Float64frombits(order.Uint64(r))), nil
	}
}
