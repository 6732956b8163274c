package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	modbus "github.com/grid-x/modbus-cli"
	"github.com/grid-x/modbus-cli/output"
)

const (
	flagType     = "type"
	flagOrder    = "order"
	flagCode     = "code"
	flagObjectID = "object-id"
	flagAll      = "all"
)

func registerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagType, Usage: "value type: " + strings.Join(valueTypes, ", "), Value: "raw"},
		&cli.StringFlag{Name: flagOrder, Usage: "force byte/word order: AB, BA, ABCD, DCBA, BADC, CDAB"},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Read from a device",
		Subcommands: []*cli.Command{
			{
				Name:      "coils",
				Usage:     "Read coils (0x01)",
				ArgsUsage: "<address> <quantity>",
				Action:    run(readBits(func(s *session) rangeReader { return s.client.ReadCoils })),
			},
			{
				Name:      "discrete-inputs",
				Usage:     "Read discrete inputs (0x02)",
				ArgsUsage: "<address> <quantity>",
				Action:    run(readBits(func(s *session) rangeReader { return s.client.ReadDiscreteInputs })),
			},
			{
				Name:      "holding-registers",
				Usage:     "Read holding registers (0x03)",
				ArgsUsage: "<address> <quantity>",
				Flags:     registerFlags(),
				Action:    run(readRegisters(func(s *session) rangeReader { return s.client.ReadHoldingRegisters })),
			},
			{
				Name:      "input-registers",
				Usage:     "Read input registers (0x04)",
				ArgsUsage: "<address> <quantity>",
				Flags:     registerFlags(),
				Action:    run(readRegisters(func(s *session) rangeReader { return s.client.ReadInputRegisters })),
			},
			{
				Name:      "file-record",
				Usage:     "Read a file record (0x14)",
				ArgsUsage: "<file> <record> <length>",
				Action:    run(readFileRecord),
			},
			{
				Name:      "fifo-queue",
				Usage:     "Read a FIFO queue (0x18)",
				ArgsUsage: "<pointer-address>",
				Action:    run(readFIFOQueue),
			},
			{
				Name:  "device-id",
				Usage: "Read device identification (0x2B / 0x0E)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCode, Usage: "access type: basic, regular, extended, individual", Value: "basic"},
					&cli.UintFlag{Name: flagObjectID, Usage: "first object id to read"},
					&cli.BoolFlag{Name: flagAll, Usage: "follow more-follows until every object of the category is read"},
				},
				Action: run(readDeviceID),
			},
		},
	}
}

// rangeReader is the shape shared by the address/quantity read functions.
type rangeReader func(ctx context.Context, address, quantity uint16) ([]byte, error)

func addressQuantity(c *cli.Context) (address, quantity uint16, err error) {
	if address, err = argUint16(c, 0, "address"); err != nil {
		return
	}
	quantity, err = argUint16(c, 1, "quantity")
	return
}

func readBits(pick func(s *session) rangeReader) actionFunc {
	return func(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
		address, quantity, err := addressQuantity(c)
		if err != nil {
			return nil, err
		}
		data, err := pick(s)(ctx, address, quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s at %d: %w", c.Command.Name, address, err)
		}
		return output.BitsResult(address, quantity, data), nil
	}
}

func readRegisters(pick func(s *session) rangeReader) actionFunc {
	return func(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
		address, quantity, err := addressQuantity(c)
		if err != nil {
			return nil, err
		}
		eType := c.String(flagType)
		size, err := valueSize(eType)
		if err != nil {
			return nil, err
		}
		if _, _, err := resolveOrder(binary.BigEndian, c.String(flagOrder)); err != nil {
			return nil, err
		}

		data, err := pick(s)(ctx, address, quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s at %d: %w", c.Command.Name, address, err)
		}
		if eType == "raw" && c.String(flagOrder) == "" {
			words, err := modbus.DecodeWords(data)
			if err != nil {
				return nil, err
			}
			return output.RegistersResult(address, words), nil
		}

		res := &output.CommandResult{Columns: []string{"address", "value"}}
		for off := 0; off+size <= len(data); off += size {
			v, err := convertFromBytes(data[off:off+size], binary.BigEndian, c.String(flagOrder), eType)
			if err != nil {
				return nil, err
			}
			res.Rows = append(res.Rows, []string{strconv.Itoa(int(address) + off/2), v})
		}
		return res, nil
	}
}

func readFileRecord(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	file, err := argUint16(c, 0, "file")
	if err != nil {
		return nil, err
	}
	record, err := argUint16(c, 1, "record")
	if err != nil {
		return nil, err
	}
	length, err := argUint16(c, 2, "length")
	if err != nil {
		return nil, err
	}
	res, err := s.ext.ReadFileRecord(ctx, file, record, length)
	if err != nil {
		return nil, fmt.Errorf("failed to read file #%d record %d: %w", file, record, err)
	}
	return output.FileRecordResult(res), nil
}

func readFIFOQueue(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	pointer, err := argUint16(c, 0, "pointer-address")
	if err != nil {
		return nil, err
	}
	values, err := s.ext.ReadFIFOQueue(ctx, pointer)
	if err != nil {
		return nil, fmt.Errorf("failed to read fifo queue at %d: %w", pointer, err)
	}
	return output.FIFOQueueResult(values), nil
}

func parseReadDeviceIDCode(s string) (modbus.ReadDeviceIDCode, error) {
	for _, code := range []modbus.ReadDeviceIDCode{
		modbus.ReadDeviceIDCodeBasic,
		modbus.ReadDeviceIDCodeRegular,
		modbus.ReadDeviceIDCodeExtended,
		modbus.ReadDeviceIDCodeIndividual,
	} {
		if strings.EqualFold(s, code.String()) {
			return code, nil
		}
	}
	return modbus.ReadDeviceIDCodeUnknown, fmt.Errorf("unknown device id code '%v', expected basic, regular, extended or individual", s)
}

func readDeviceID(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	code, err := parseReadDeviceIDCode(c.String(flagCode))
	if err != nil {
		return nil, err
	}
	objectID := c.Uint(flagObjectID)
	if objectID > 0xFF {
		return nil, fmt.Errorf("invalid object id: %d", objectID)
	}

	read := s.ext.ReadDeviceIdentification
	if c.Bool(flagAll) {
		read = s.ext.ReadAllDeviceIdentification
	}
	id, err := read(ctx, code, byte(objectID))
	if err != nil {
		return nil, fmt.Errorf("failed to read device identification: %w", err)
	}
	return output.DeviceIdentificationResult(id)
}
