package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is a connection profile loaded with --config. Unset keys leave
// the flag defaults alone; flags given on the command line win over the file.
type fileConfig struct {
	URI     *string        `yaml:"uri"`
	SlaveID *int           `yaml:"slave_id"`
	Timeout *time.Duration `yaml:"timeout"`
	Format  *string        `yaml:"format"`
	RTU     struct {
		BaudRate *int    `yaml:"baud_rate"`
		DataBits *int    `yaml:"data_bits"`
		Parity   *string `yaml:"parity"`
		StopBits *int    `yaml:"stop_bits"`
		RS485    struct {
			Enabled            *bool          `yaml:"enabled"`
			DelayRtsBeforeSend *time.Duration `yaml:"delay_rts_before_send"`
			DelayRtsAfterSend  *time.Duration `yaml:"delay_rts_after_send"`
			RtsHighDuringSend  *bool          `yaml:"rts_high_during_send"`
			RtsHighAfterSend   *bool          `yaml:"rts_high_after_send"`
			RxDuringTx         *bool          `yaml:"rx_during_tx"`
		} `yaml:"rs485"`
	} `yaml:"rtu"`
	TCP struct {
		LinkRecoveryTimeout     *time.Duration `yaml:"link_recovery_timeout"`
		ProtocolRecoveryTimeout *time.Duration `yaml:"protocol_recovery_timeout"`
	} `yaml:"tcp"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config '%v': %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config '%v': %w", path, err)
	}
	return &cfg, nil
}

// apply copies every key present in the file into opt unless isSet reports
// that the matching flag was given explicitly.
func (cfg *fileConfig) apply(opt *option, isSet func(flag string) bool) {
	set := func(flag string, present bool, assign func()) {
		if present && !isSet(flag) {
			assign()
		}
	}
	set(flagURI, cfg.URI != nil, func() { opt.uri = *cfg.URI })
	set(flagSlaveID, cfg.SlaveID != nil, func() { opt.slaveID = *cfg.SlaveID })
	set(flagTimeout, cfg.Timeout != nil, func() { opt.timeout = *cfg.Timeout })
	set(flagFormat, cfg.Format != nil, func() { opt.format = *cfg.Format })

	rtu := &cfg.RTU
	set(flagRTUBaudRate, rtu.BaudRate != nil, func() { opt.rtu.baudrate = *rtu.BaudRate })
	set(flagRTUDataBits, rtu.DataBits != nil, func() { opt.rtu.dataBits = *rtu.DataBits })
	set(flagRTUParity, rtu.Parity != nil, func() { opt.rtu.parity = *rtu.Parity })
	set(flagRTUStopBits, rtu.StopBits != nil, func() { opt.rtu.stopBits = *rtu.StopBits })

	rs485 := &rtu.RS485
	set(flagRS485Enable, rs485.Enabled != nil, func() { opt.rtu.rs485.enabled = *rs485.Enabled })
	set(flagRS485DelayBefore, rs485.DelayRtsBeforeSend != nil, func() { opt.rtu.rs485.delayRtsBeforeSend = *rs485.DelayRtsBeforeSend })
	set(flagRS485DelayAfter, rs485.DelayRtsAfterSend != nil, func() { opt.rtu.rs485.delayRtsAfterSend = *rs485.DelayRtsAfterSend })
	set(flagRS485HighDuring, rs485.RtsHighDuringSend != nil, func() { opt.rtu.rs485.rtsHighDuringSend = *rs485.RtsHighDuringSend })
	set(flagRS485HighAfter, rs485.RtsHighAfterSend != nil, func() { opt.rtu.rs485.rtsHighAfterSend = *rs485.RtsHighAfterSend })
	set(flagRS485RxDuringTx, rs485.RxDuringTx != nil, func() { opt.rtu.rs485.rxDuringTx = *rs485.RxDuringTx })

	set(flagTCPLinkRecovery, cfg.TCP.LinkRecoveryTimeout != nil, func() { opt.tcp.linkRecoveryTimeout = *cfg.TCP.LinkRecoveryTimeout })
	set(flagTCPProtocolRecovery, cfg.TCP.ProtocolRecoveryTimeout != nil, func() { opt.tcp.protocolRecoveryTimeout = *cfg.TCP.ProtocolRecoveryTimeout })
}
