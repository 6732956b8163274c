package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	modbus "github.com/grid-x/modbus-cli"
	"github.com/grid-x/modbus-cli/output"
)

const (
	flagURI                 = "uri"
	flagSlaveID             = "slave-id"
	flagTimeout             = "timeout"
	flagFormat              = "format"
	flagConfig              = "config"
	flagLogFrame            = "log-frame"
	flagVerbose             = "verbose"
	flagTCPLinkRecovery     = "tcp-timeout-link-recovery"
	flagTCPProtocolRecovery = "tcp-timeout-protocol-recovery"
	flagRTUBaudRate         = "rtu-baudrate"
	flagRTUDataBits         = "rtu-databits"
	flagRTUParity           = "rtu-parity"
	flagRTUStopBits         = "rtu-stopbits"
	flagRS485Enable         = "rs485-enable"
	flagRS485DelayBefore    = "rs485-delay-rts-before-send"
	flagRS485DelayAfter     = "rs485-delay-rts-after-send"
	flagRS485HighDuring     = "rs485-rts-high-during-send"
	flagRS485HighAfter      = "rs485-rts-high-after-send"
	flagRS485RxDuringTx     = "rs485-rx-during-tx"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "modbus-cli",
		Usage: "Make Modbus requests over TCP or serial RTU",
		Flags: []cli.Flag{
			// general
			&cli.StringFlag{
				Name:    flagURI,
				Aliases: []string{"u", "address"},
				Usage: "connection URI, supported schemes are tcp and rtu: " +
					"tcp://127.0.0.1:502 (default port 502), rtu:///dev/ttyUSB0?baud=9600 or rtu://ttyUSB0:9600 (default baud 9600)",
				Value: "tcp://127.0.0.1:502",
			},
			&cli.IntFlag{
				Name:    flagSlaveID,
				Aliases: []string{"s"},
				Usage:   "slave / unit id, used for intra-system routing on serial lines and gateways",
				Value:   1,
			},
			&cli.DurationFlag{Name: flagTimeout, Usage: "modbus connection and response timeout", Value: 20 * time.Second},
			&cli.StringFlag{
				Name:    flagFormat,
				Aliases: []string{"f"},
				Usage:   "output format: " + strings.Join(output.Formats, ", "),
				Value:   output.FormatTSV,
			},
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "YAML file with connection defaults"},
			&cli.BoolFlag{Name: flagLogFrame, Usage: "log sent and received modbus frames"},
			&cli.BoolFlag{Name: flagVerbose, Usage: "enable debug logging"},
			// tcp
			&cli.DurationFlag{Name: flagTCPLinkRecovery, Usage: "reconnect and retry within this time when the link breaks, 0 disables", Value: 20 * time.Second},
			&cli.DurationFlag{Name: flagTCPProtocolRecovery, Usage: "skip responses of other transactions within this time, 0 disables", Value: 20 * time.Second},
			// rtu
			&cli.IntFlag{Name: flagRTUBaudRate, Usage: "symbol rate, overrides the URI, e.g.: 300, 600, 1200, 2400, 4800, 9600, 19200, 38400"},
			&cli.IntFlag{Name: flagRTUDataBits, Usage: "5, 6, 7 or 8", Value: 8},
			&cli.StringFlag{Name: flagRTUParity, Usage: "parity: N - None, E - Even, O - Odd", Value: "E"},
			&cli.IntFlag{Name: flagRTUStopBits, Usage: "1 or 2", Value: 1},
			// rs485
			&cli.BoolFlag{Name: flagRS485Enable, Usage: "enables rs485 cfg"},
			&cli.DurationFlag{Name: flagRS485DelayBefore, Usage: "delay rts before send"},
			&cli.DurationFlag{Name: flagRS485DelayAfter, Usage: "delay rts after send"},
			&cli.BoolFlag{Name: flagRS485HighDuring, Usage: "allow rts high during send"},
			&cli.BoolFlag{Name: flagRS485HighAfter, Usage: "allow rts high after send"},
			&cli.BoolFlag{Name: flagRS485RxDuringTx, Usage: "allow bidirectional rx during tx"},
		},
		Before: func(c *cli.Context) error {
			verbose := c.Bool(flagVerbose) || c.Bool(flagLogFrame)
			slog.SetDefault(newLogger(c.App.ErrWriter, verbose))
			return nil
		},
		Commands: []*cli.Command{
			readCommand(),
			writeCommand(),
			customCommand(),
		},
	}
}

// loadOptions merges built-in defaults, the --config file and explicit flags.
func loadOptions(c *cli.Context) (option, error) {
	var opt option
	opt.uri = c.String(flagURI)
	opt.slaveID = c.Int(flagSlaveID)
	opt.timeout = c.Duration(flagTimeout)
	opt.format = c.String(flagFormat)
	opt.tcp.linkRecoveryTimeout = c.Duration(flagTCPLinkRecovery)
	opt.tcp.protocolRecoveryTimeout = c.Duration(flagTCPProtocolRecovery)
	opt.rtu.baudrate = c.Int(flagRTUBaudRate)
	opt.rtu.dataBits = c.Int(flagRTUDataBits)
	opt.rtu.parity = c.String(flagRTUParity)
	opt.rtu.stopBits = c.Int(flagRTUStopBits)
	opt.rtu.rs485.enabled = c.Bool(flagRS485Enable)
	opt.rtu.rs485.delayRtsBeforeSend = c.Duration(flagRS485DelayBefore)
	opt.rtu.rs485.delayRtsAfterSend = c.Duration(flagRS485DelayAfter)
	opt.rtu.rs485.rtsHighDuringSend = c.Bool(flagRS485HighDuring)
	opt.rtu.rs485.rtsHighAfterSend = c.Bool(flagRS485HighAfter)
	opt.rtu.rs485.rxDuringTx = c.Bool(flagRS485RxDuringTx)

	if path := c.String(flagConfig); path != "" {
		cfg, err := loadConfig(path)
		if err != nil {
			return opt, err
		}
		cfg.apply(&opt, c.IsSet)
	}
	if c.Bool(flagLogFrame) {
		opt.logger = slog.Default()
	}
	return opt, nil
}

// session is what every command talks to the device through.
type session struct {
	client modbus.Client
	ext    *modbus.ExtensionClient
}

type actionFunc func(ctx context.Context, c *cli.Context, s *session) (*output.CommandResult, error)

// run opens the connection, executes fn and renders its result. Nothing is
// printed when fn fails.
func run(fn actionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		opt, err := loadOptions(c)
		if err != nil {
			return err
		}
		w, err := output.New(opt.format, c.App.Writer)
		if err != nil {
			return err
		}
		handler, err := handlerFactory(opt)
		if err != nil {
			return err
		}
		if err := handler.Connect(); err != nil {
			return fmt.Errorf("could not open '%v': %w", opt.uri, err)
		}
		defer handler.Close()

		client := modbus.NewClient(handler)
		res, err := fn(c.Context, c, &session{client: client, ext: modbus.NewExtensionClient(client)})
		if err != nil {
			return err
		}
		return w.Write(res)
	}
}

// argUint16 parses positional argument i, accepting 0x and 0o prefixes.
func argUint16(c *cli.Context, i int, name string) (uint16, error) {
	s := c.Args().Get(i)
	if s == "" {
		return 0, fmt.Errorf("missing argument <%s>", name)
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%v': %w", name, s, err)
	}
	return uint16(v), nil
}

// argsUint16 parses every positional argument from i on.
func argsUint16(c *cli.Context, i int, name string) ([]uint16, error) {
	if c.Args().Len() <= i {
		return nil, fmt.Errorf("missing argument <%s>", name)
	}
	values := make([]uint16, 0, c.Args().Len()-i)
	for j := i; j < c.Args().Len(); j++ {
		v, err := argUint16(c, j, name)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
