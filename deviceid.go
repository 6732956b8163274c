package modbus

import "fmt"

// ReadDeviceIDCode selects the access type of a Read Device Identification request.
type ReadDeviceIDCode byte

const (
	// ReadDeviceIDCodeUnknown marks a code byte outside the defined set.
	ReadDeviceIDCodeUnknown ReadDeviceIDCode = 0xFF
	// ReadDeviceIDCodeBasic streams the basic objects (0x00-0x02).
	ReadDeviceIDCodeBasic ReadDeviceIDCode = 0x01
	// ReadDeviceIDCodeRegular streams the regular objects (0x03-0x7F).
	ReadDeviceIDCodeRegular ReadDeviceIDCode = 0x02
	// ReadDeviceIDCodeExtended streams the extended objects (0x80-0xFF).
	ReadDeviceIDCodeExtended ReadDeviceIDCode = 0x03
	// ReadDeviceIDCodeIndividual reads one specific object.
	ReadDeviceIDCodeIndividual ReadDeviceIDCode = 0x04
)

// readDeviceIDCodeFromByte maps the wire byte onto the closed set of codes.
func readDeviceIDCodeFromByte(b byte) ReadDeviceIDCode {
	switch code := ReadDeviceIDCode(b); code {
	case ReadDeviceIDCodeBasic,
		ReadDeviceIDCodeRegular,
		ReadDeviceIDCodeExtended,
		ReadDeviceIDCodeIndividual:
		return code
	default:
		return ReadDeviceIDCodeUnknown
	}
}

func (c ReadDeviceIDCode) String() string {
	switch c {
	case ReadDeviceIDCodeBasic:
		return "basic"
	case ReadDeviceIDCodeRegular:
		return "regular"
	case ReadDeviceIDCodeExtended:
		return "extended"
	case ReadDeviceIDCodeIndividual:
		return "individual"
	default:
		return "unknown"
	}
}

// Conformity is the identification level a device declares.
type Conformity byte

const (
	// ConformityUnknown marks a conformity byte outside the defined set.
	ConformityUnknown Conformity = 0x00
	// ConformityBasic basic identification, stream access only
	ConformityBasic Conformity = 0x01
	// ConformityRegular regular identification, stream access only
	ConformityRegular Conformity = 0x02
	// ConformityExtended extended identification, stream access only
	ConformityExtended Conformity = 0x03
	// ConformityBasicWithIndividual basic identification, stream and individual access
	ConformityBasicWithIndividual Conformity = 0x81
	// ConformityRegularWithIndividual regular identification, stream and individual access
	ConformityRegularWithIndividual Conformity = 0x82
	// ConformityExtendedWithIndividual extended identification, stream and individual access
	ConformityExtendedWithIndividual Conformity = 0x83
)

func conformityFromByte(b byte) Conformity {
	switch c := Conformity(b); c {
	case ConformityBasic,
		ConformityRegular,
		ConformityExtended,
		ConformityBasicWithIndividual,
		ConformityRegularWithIndividual,
		ConformityExtendedWithIndividual:
		return c
	default:
		return ConformityUnknown
	}
}

func (c Conformity) String() string {
	switch c {
	case ConformityBasic:
		return "basic"
	case ConformityRegular:
		return "regular"
	case ConformityExtended:
		return "extended"
	case ConformityBasicWithIndividual:
		return "basic+individual"
	case ConformityRegularWithIndividual:
		return "regular+individual"
	case ConformityExtendedWithIndividual:
		return "extended+individual"
	default:
		return "unknown"
	}
}

// DeviceIDObject is a single identification object.
type DeviceIDObject struct {
	ID     uint8
	Length uint8
	Value  []byte
}

// DeviceIdentification is a decoded Read Device Identification response.
type DeviceIdentification struct {
	MEIType          uint8
	ReadDeviceIDCode ReadDeviceIDCode
	ConformityLevel  Conformity
	// MoreFollows is 0xFF when further objects are available.
	MoreFollows     uint8
	NextObjectID    uint8
	NumberOfObjects uint8
	Objects         []DeviceIDObject
}

const (
	deviceIDHeaderSize  = 6
	deviceIDMoreFollows = 0xFF
)

// encodeReadDeviceIdentification builds:
//
//	MEI type              : 1 byte (0x0E)
//	Read device ID code   : 1 byte
//	Object ID             : 1 byte
func encodeReadDeviceIdentification(code ReadDeviceIDCode, objectID byte) []byte {
	return []byte{MEITypeReadDeviceIdentification, byte(code), objectID}
}

// cursor reads an immutable buffer front to back.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) next(n int, what string) ([]byte, error) {
	if c.remaining() < n {
		return nil, truncatedError(what, c.off+n, len(c.buf))
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// decodeDeviceIdentification parses:
//
//	MEI type              : 1 byte (0x0E)
//	Read device ID code   : 1 byte
//	Conformity level      : 1 byte
//	More follows          : 1 byte (0x00 or 0xFF)
//	Next object ID        : 1 byte
//	Number of objects     : 1 byte
//	Object ID             : 1 byte  ┐
//	Object length         : 1 byte  ├ x number of objects
//	Object value          : N bytes ┘
func decodeDeviceIdentification(payload []byte) (*DeviceIdentification, error) {
	c := cursor{buf: payload}
	header, err := c.next(deviceIDHeaderSize, "device identification header")
	if err != nil {
		return nil, err
	}
	id := &DeviceIdentification{
		MEIType:          header[0],
		ReadDeviceIDCode: readDeviceIDCodeFromByte(header[1]),
		ConformityLevel:  conformityFromByte(header[2]),
		MoreFollows:      header[3],
		NextObjectID:     header[4],
		NumberOfObjects:  header[5],
	}
	id.Objects = make([]DeviceIDObject, 0, id.NumberOfObjects)
	for i := 0; i < int(id.NumberOfObjects); i++ {
		object, err := decodeDeviceIDObject(&c, i)
		if err != nil {
			return nil, err
		}
		id.Objects = append(id.Objects, object)
	}
	return id, nil
}

func decodeDeviceIDObject(c *cursor, index int) (DeviceIDObject, error) {
	what := fmt.Sprintf("object %d", index)
	head, err := c.next(2, what)
	if err != nil {
		return DeviceIDObject{}, err
	}
	value, err := c.next(int(head[1]), what)
	if err != nil {
		return DeviceIDObject{}, err
	}
	return DeviceIDObject{
		ID:     head[0],
		Length: head[1],
		Value:  append([]byte(nil), value...),
	}, nil
}
