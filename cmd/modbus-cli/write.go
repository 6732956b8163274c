package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/grid-x/modbus-cli/output"
)

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "Write to a device",
		Subcommands: []*cli.Command{
			{
				Name:      "coil",
				Usage:     "Write a single coil (0x05)",
				ArgsUsage: "<address> <on|off>",
				Action:    run(writeCoil),
			},
			{
				Name:      "coils",
				Usage:     "Write multiple coils (0x0F)",
				ArgsUsage: "<address> <on|off>...",
				Action:    run(writeCoils),
			},
			{
				Name:      "register",
				Usage:     "Write a single value, one register wide values use 0x06, wider ones 0x10",
				ArgsUsage: "<address> <value>",
				Flags:     registerFlags(),
				Action:    run(writeRegisters(1)),
			},
			{
				Name:      "registers",
				Usage:     "Write multiple values (0x10)",
				ArgsUsage: "<address> <value>...",
				Flags:     registerFlags(),
				Action:    run(writeRegisters(-1)),
			},
			{
				Name:      "file-record",
				Usage:     "Write a file record (0x15)",
				ArgsUsage: "<file> <record> <word>...",
				Action:    run(writeFileRecord),
			},
		},
	}
}

// parseCoil accepts on/off next to everything strconv.ParseBool does.
func parseCoil(s string) (bool, error) {
	switch s {
	case "on", "ON":
		return true, nil
	case "off", "OFF":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid coil value '%v', expected on or off", s)
	}
	return v, nil
}

func writeCoil(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	address, err := argUint16(c, 0, "address")
	if err != nil {
		return nil, err
	}
	on, err := parseCoil(c.Args().Get(1))
	if err != nil {
		return nil, err
	}
	var value uint16
	if on {
		value = 0xFF00
	}
	if _, err := s.client.WriteSingleCoil(ctx, address, value); err != nil {
		return nil, fmt.Errorf("failed to write coil %d: %w", address, err)
	}
	return output.StatusResult(), nil
}

func writeCoils(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	address, err := argUint16(c, 0, "address")
	if err != nil {
		return nil, err
	}
	if c.Args().Len() < 2 {
		return nil, fmt.Errorf("missing argument <on|off>")
	}
	quantity := c.Args().Len() - 1
	packed := make([]byte, (quantity+7)/8)
	for i := 0; i < quantity; i++ {
		on, err := parseCoil(c.Args().Get(i + 1))
		if err != nil {
			return nil, err
		}
		if on {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	if _, err := s.client.WriteMultipleCoils(ctx, address, uint16(quantity), packed); err != nil {
		return nil, fmt.Errorf("failed to write %d coils at %d: %w", quantity, address, err)
	}
	return output.StatusResult(), nil
}

// writeRegisters converts every value argument with --type and --order.
// limit caps the number of values, -1 means unlimited.
func writeRegisters(limit int) actionFunc {
	return func(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
		address, err := argUint16(c, 0, "address")
		if err != nil {
			return nil, err
		}
		args := c.Args().Slice()[min(1, c.Args().Len()):]
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument <value>")
		}
		if limit > 0 && len(args) > limit {
			return nil, fmt.Errorf("expected %d value(s), got %d", limit, len(args))
		}

		var data []byte
		for _, arg := range args {
			val, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value '%v': %w", arg, err)
			}
			b, err := convertToBytes(c.String(flagType), binary.BigEndian, c.String(flagOrder), val)
			if err != nil {
				return nil, err
			}
			data = append(data, b...)
		}

		if len(data) == 2 && limit == 1 {
			_, err = s.client.WriteSingleRegister(ctx, address, binary.BigEndian.Uint16(data))
		} else {
			_, err = s.client.WriteMultipleRegisters(ctx, address, uint16(len(data)/2), data)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write registers at %d: %w", address, err)
		}
		return output.StatusResult(), nil
	}
}

func writeFileRecord(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	file, err := argUint16(c, 0, "file")
	if err != nil {
		return nil, err
	}
	record, err := argUint16(c, 1, "record")
	if err != nil {
		return nil, err
	}
	words, err := argsUint16(c, 2, "word")
	if err != nil {
		return nil, err
	}
	if err := s.ext.WriteFileRecord(ctx, file, record, words); err != nil {
		return nil, fmt.Errorf("failed to write file #%d record %d: %w", file, record, err)
	}
	return output.StatusResult(), nil
}
