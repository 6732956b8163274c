package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	modbus "github.com/grid-x/modbus-cli"
	"github.com/grid-x/modbus-cli/output"
)

func customCommand() *cli.Command {
	return &cli.Command{
		Name:  "custom",
		Usage: "Send a raw request: the first byte is the function code, the rest its payload",
		Description: "The request is read from FILE, or from stdin when FILE is - or missing. " +
			"Exception responses are printed like any other response.",
		ArgsUsage: "[FILE|-]",
		Action:    run(custom),
	}
}

func readRequest(c *cli.Context) ([]byte, error) {
	var r io.Reader = c.App.Reader
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty request, expected at least a function code")
	}
	return raw, nil
}

func custom(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error) {
	raw, err := readRequest(c)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Call(ctx, &modbus.ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]})
	if err != nil {
		return nil, fmt.Errorf("failed to send function code 0x%02X: %w", raw[0], err)
	}
	return output.RawResult(response), nil
}
