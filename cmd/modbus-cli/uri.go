package main

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
)

const (
	defaultTCPPort  = "502"
	defaultBaudRate = 9600
)

var validSchemes = []string{"rtu", "tcp"}

// modbusURI is a parsed connection URI.
//
//	tcp://host[:port]              port defaults to 502
//	rtu:///dev/ttyUSB0[?baud=N]    absolute device path
//	rtu://ttyUSB0[:baud]           device below /dev, the port is the baud rate
type modbusURI struct {
	Scheme string
	// Address is host:port for tcp and the device path for rtu.
	Address  string
	BaudRate int
}

func parseURI(raw string) (*modbusURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		host := u.Hostname()
		if host == "" {
			return nil, fmt.Errorf("missing host in '%v'", raw)
		}
		port := u.Port()
		if port == "" {
			port = defaultTCPPort
		}
		return &modbusURI{Scheme: u.Scheme, Address: net.JoinHostPort(host, port)}, nil
	case "rtu":
		m := &modbusURI{Scheme: u.Scheme, BaudRate: defaultBaudRate}
		baud := u.Query().Get("baud")
		if u.Host != "" {
			m.Address = path.Join("/dev", u.Hostname(), u.Path)
			if p := u.Port(); p != "" {
				baud = p
			}
		} else {
			m.Address = u.Path
		}
		if m.Address == "" || m.Address == "/" {
			return nil, fmt.Errorf("missing serial device in '%v'", raw)
		}
		if baud != "" {
			if m.BaudRate, err = strconv.Atoi(baud); err != nil || m.BaudRate <= 0 {
				return nil, fmt.Errorf("invalid baud rate '%v' in '%v'", baud, raw)
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("invalid scheme '%v', expected one of %v", u.Scheme, validSchemes)
}

func (m *modbusURI) String() string {
	if m.Scheme == "rtu" {
		return fmt.Sprintf("rtu://%s?baud=%d", m.Address, m.BaudRate)
	}
	return m.Scheme + "://" + m.Address
}
