package modbus

const fifoHeaderSize = 4

// encodeReadFIFOQueue builds:
//
//	FIFO pointer address  : 2 bytes
func encodeReadFIFOQueue(pointerAddress uint16) []byte {
	return dataBlock(pointerAddress)
}

// decodeFIFOQueue parses:
//
//	Byte count            : 2 bytes
//	FIFO count            : 2 bytes (<=31)
//	FIFO value register   : Nx2 bytes
//
// The counts are the device's own and are not cross-checked.
func decodeFIFOQueue(payload []byte) ([]uint16, error) {
	if len(payload) < fifoHeaderSize {
		return nil, truncatedError("fifo header", fifoHeaderSize, len(payload))
	}
	return DecodeWords(payload[fifoHeaderSize:])
}
