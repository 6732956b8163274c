package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/grid-x/serial"

	modbus "github.com/grid-x/modbus-cli"
)

type option struct {
	uri     string
	slaveID int
	timeout time.Duration
	format  string

	logger *slog.Logger

	rtu struct {
		baudrate int
		dataBits int
		parity   string
		stopBits int
		rs485    struct {
			enabled            bool
			delayRtsBeforeSend time.Duration
			delayRtsAfterSend  time.Duration
			rtsHighDuringSend  bool
			rtsHighAfterSend   bool
			rxDuringTx         bool
		}
	}

	tcp struct {
		linkRecoveryTimeout     time.Duration
		protocolRecoveryTimeout time.Duration
	}
}

// handlerFactory builds the transport for a command; tests swap it out.
var handlerFactory = newHandler

func newHandler(o option) (modbus.ClientHandler, error) {
	u, err := parseURI(o.uri)
	if err != nil {
		return nil, err
	}
	if o.slaveID < 0 || o.slaveID > 255 {
		return nil, fmt.Errorf("invalid slave id: %d", o.slaveID)
	}
	var frameLogger *debugAdapter
	if o.logger != nil {
		frameLogger = &debugAdapter{o.logger}
	}
	switch u.Scheme {
	case "rtu":
		h := modbus.NewRTUClientHandler(u.Address)
		h.Timeout = o.timeout
		h.SlaveID = byte(o.slaveID)
		if frameLogger != nil {
			h.Logger = frameLogger
		}
		h.BaudRate = u.BaudRate
		if o.rtu.baudrate > 0 {
			h.BaudRate = o.rtu.baudrate
		}
		h.DataBits = o.rtu.dataBits
		h.Parity = o.rtu.parity
		h.StopBits = o.rtu.stopBits
		h.RS485 = serial.RS485Config{
			Enabled:            o.rtu.rs485.enabled,
			DelayRtsBeforeSend: o.rtu.rs485.delayRtsBeforeSend,
			DelayRtsAfterSend:  o.rtu.rs485.delayRtsAfterSend,
			RtsHighDuringSend:  o.rtu.rs485.rtsHighDuringSend,
			RtsHighAfterSend:   o.rtu.rs485.rtsHighAfterSend,
			RxDuringTx:         o.rtu.rs485.rxDuringTx,
		}
		return h, nil
	case "tcp":
		h := modbus.NewTCPClientHandler(u.Address)
		h.Timeout = o.timeout
		h.SlaveID = byte(o.slaveID)
		h.LinkRecoveryTimeout = o.tcp.linkRecoveryTimeout
		h.ProtocolRecoveryTimeout = o.tcp.protocolRecoveryTimeout
		if frameLogger != nil {
			h.Logger = frameLogger
		}
		return h, nil
	}

	return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
}
