// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	tcpProtocolIdentifier uint16 = 0x0000

	// Modbus Application Protocol
	tcpHeaderSize = 7
	tcpMaxLength  = 260
	// Default TCP timeout is not set
	tcpTimeout     = 10 * time.Second
	tcpIdleTimeout = 60 * time.Second
)

// ErrTCPHeaderLength informs about a wrong header length.
type ErrTCPHeaderLength int

func (length ErrTCPHeaderLength) Error() string {
	return fmt.Sprintf("modbus: length in response header '%d' must not be zero or greater than '%v'",
		length, tcpMaxLength-tcpHeaderSize+1)
}

// DialFunc opens the connection used by the TCP transporter.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDialFunc(timeout time.Duration) DialFunc {
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext
}

// TCPClientHandler implements Packager and Transporter interface.
type TCPClientHandler struct {
	tcpPackager
	tcpTransporter
}

// TCPClientHandlerOption customizes a TCPClientHandler.
type TCPClientHandlerOption func(h *TCPClientHandler)

// WithDialer replaces the function used to open connections.
func WithDialer(dial DialFunc) TCPClientHandlerOption {
	return func(h *TCPClientHandler) {
		h.Dial = dial
	}
}

// WithTLSConfig runs the session over TLS (Modbus/TCP Security).
func WithTLSConfig(config *tls.Config) TCPClientHandlerOption {
	return func(h *TCPClientHandler) {
		h.TLSConfig = config
	}
}

// NewTCPClientHandler allocates a new TCPClientHandler.
func NewTCPClientHandler(address string, opts ...TCPClientHandlerOption) *TCPClientHandler {
	h := &TCPClientHandler{}
	h.Address = address
	h.Timeout = tcpTimeout
	h.IdleTimeout = tcpIdleTimeout
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TCPClient creates TCP client with default handler and given connect string.
func TCPClient(address string) Client {
	handler := NewTCPClientHandler(address)
	return NewClient(handler)
}

// tcpPackager implements Packager interface.
type tcpPackager struct {
	// For synchronization between messages of server & client
	transactionID atomic.Uint32
	// Broadcast address is 0
	SlaveID byte
}

// SetSlave sets modbus slave id for the next client operations
func (mb *tcpPackager) SetSlave(slaveID byte) {
	mb.SlaveID = slaveID
}

// Encode adds modbus application protocol header:
//
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
//	Function code: 1 byte
//	Data: n bytes
func (mb *tcpPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	if len(pdu.Data) > tcpMaxLength-tcpHeaderSize-1 {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", len(pdu.Data), tcpMaxLength-tcpHeaderSize-1)
		return
	}
	adu = make([]byte, tcpHeaderSize+1+len(pdu.Data))

	// Transaction identifier
	transactionID := mb.transactionID.Add(1)
	binary.BigEndian.PutUint16(adu, uint16(transactionID))
	// Protocol identifier
	binary.BigEndian.PutUint16(adu[2:], tcpProtocolIdentifier)
	// Length = sizeof(SlaveID) + sizeof(FunctionCode) + Data
	length := uint16(1 + 1 + len(pdu.Data))
	binary.BigEndian.PutUint16(adu[4:], length)
	// Unit identifier
	adu[6] = mb.SlaveID

	// PDU
	adu[tcpHeaderSize] = pdu.FunctionCode
	copy(adu[tcpHeaderSize+1:], pdu.Data)
	return
}

// Verify confirms transaction, protocol and unit id.
func (mb *tcpPackager) Verify(aduRequest []byte, aduResponse []byte) error {
	return verify(aduRequest, aduResponse)
}

// Decode extracts PDU from TCP frame:
//
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
func (mb *tcpPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	if len(adu) <= tcpHeaderSize {
		err = fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", len(adu), tcpHeaderSize+1)
		return
	}
	// Read length value in the header
	length := binary.BigEndian.Uint16(adu[4:])
	pduLength := len(adu) - tcpHeaderSize
	if pduLength != int(length)-1 {
		err = fmt.Errorf("modbus: length in response '%v' does not match pdu data length '%v'", int(length)-1, pduLength)
		return
	}
	pdu = &ProtocolDataUnit{}
	// The first byte after header is function code
	pdu.FunctionCode = adu[tcpHeaderSize]
	pdu.Data = adu[tcpHeaderSize+1:]
	return
}

// tcpTransporter implements Transporter interface.
type tcpTransporter struct {
	// Connect string
	Address string
	// Connect & Read timeout
	Timeout time.Duration
	// Idle timeout to close the connection
	IdleTimeout time.Duration
	// Recovery timeout if tcp communication misbehaves
	LinkRecoveryTimeout time.Duration
	// Recovery timeout if the protocol is malformed, e.g. wrong transaction ID
	ProtocolRecoveryTimeout time.Duration
	// Transmission logger
	Logger logger
	// Dial opens the connection, net.Dialer when nil
	Dial DialFunc
	// TLSConfig enables TLS when set
	TLSConfig *tls.Config

	// TCP connection
	mu           sync.Mutex
	conn         net.Conn
	closeTimer   *time.Timer
	lastActivity time.Time
}

// Send sends data to server and ensures response length is greater than header length.
func (mb *tcpTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	recoveryDeadline := time.Now().Add(mb.IdleTimeout)

	for {
		if err = ctx.Err(); err != nil {
			return
		}
		// Establish a new connection if not connected
		if err = mb.connect(ctx); err != nil {
			return
		}

		// An answer to a previously timed-out request may still be buffered and
		// would cause a transaction id mismatch, so it is discarded before
		// polling again. Be aware that this call resets the read deadline.
		mb.flushAll()

		aduResponse, err = mb.roundTrip(ctx, aduRequest, recoveryDeadline)
		if err == nil {
			mb.logf("modbus: recv % x\n", aduResponse)
			break
		}
		if cerr := contextError(ctx); cerr != nil {
			err = cerr
			break
		}
		if !mb.linkRecoverable(err, recoveryDeadline) {
			break
		}
		mb.logf("modbus: close connection and retry, because of %v", err)

		mb.close()
		select {
		case <-time.After(mb.LinkRecoveryTimeout):
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
	if mb.IdleTimeout <= 0 {
		mb.close()
	}
	return
}

// roundTrip writes one request and reads frames until one belongs to it.
// Frames of other transactions are skipped while protocol recovery is enabled.
func (mb *tcpTransporter) roundTrip(ctx context.Context, aduRequest []byte, recoveryDeadline time.Time) (aduResponse []byte, err error) {
	// Set timer to close when idle
	mb.lastActivity = time.Now()
	mb.startCloseTimer()
	// Set write and read timeout
	var deadline time.Time
	if mb.Timeout > 0 {
		deadline = mb.lastActivity.Add(mb.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err = mb.conn.SetDeadline(deadline); err != nil {
		return
	}
	conn := mb.conn
	stop := context.AfterFunc(ctx, func() {
		// unblock pending I/O
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	mb.logf("modbus: send % x", aduRequest)
	if _, err = mb.conn.Write(aduRequest); err != nil {
		return
	}
	var data [tcpMaxLength]byte
	for {
		// Read header first
		if _, err = io.ReadFull(mb.conn, data[:tcpHeaderSize]); err != nil {
			return
		}
		if aduResponse, err = mb.processResponse(data[:]); err != nil {
			return
		}
		if err = verify(aduRequest, aduResponse); err == nil {
			return
		}
		if mb.ProtocolRecoveryTimeout <= 0 || time.Until(recoveryDeadline) <= 0 {
			return
		}
		mb.logf("modbus: skipping response, because of %v", err)
	}
}

// contextError is ctx.Err, but also reports a deadline that has passed
// before the context timer fired.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// linkRecoverable reports whether the connection should be re-established
// and the request repeated after err.
func (mb *tcpTransporter) linkRecoverable(err error, recoveryDeadline time.Time) bool {
	if mb.LinkRecoveryTimeout <= 0 || time.Until(recoveryDeadline) <= 0 {
		return false
	}
	if _, ok := err.(ErrTCPHeaderLength); ok {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (mb *tcpTransporter) processResponse(data []byte) (aduResponse []byte, err error) {
	// Read length, ignore transaction & protocol id (4 bytes)
	length := int(binary.BigEndian.Uint16(data[4:]))
	if length <= 0 {
		mb.flush(data[:])
		err = ErrTCPHeaderLength(length)
		return
	}
	if length > (tcpMaxLength - (tcpHeaderSize - 1)) {
		mb.flush(data[:])
		err = ErrTCPHeaderLength(length)
		return
	}
	// Skip unit id
	length += tcpHeaderSize - 1
	if _, err = io.ReadFull(mb.conn, data[tcpHeaderSize:length]); err != nil {
		return
	}
	aduResponse = append([]byte(nil), data[:length]...)
	return
}

func verify(aduRequest []byte, aduResponse []byte) (err error) {
	if len(aduResponse) < tcpHeaderSize {
		err = fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", len(aduResponse), tcpHeaderSize)
		return
	}
	// Transaction id
	responseVal := binary.BigEndian.Uint16(aduResponse)
	requestVal := binary.BigEndian.Uint16(aduRequest)
	if responseVal != requestVal {
		err = fmt.Errorf("modbus: response transaction id '%v' does not match request '%v'", responseVal, requestVal)
		return
	}
	// Protocol id
	responseVal = binary.BigEndian.Uint16(aduResponse[2:])
	requestVal = binary.BigEndian.Uint16(aduRequest[2:])
	if responseVal != requestVal {
		err = fmt.Errorf("modbus: response protocol id '%v' does not match request '%v'", responseVal, requestVal)
		return
	}
	// Unit id (1 byte)
	if aduResponse[6] != aduRequest[6] {
		err = fmt.Errorf("modbus: response unit id '%v' does not match request '%v'", aduResponse[6], aduRequest[6])
		return
	}
	return
}

// Connect establishes a new connection to the address in Address.
// Connect and Close are exported so that multiple requests can be done with one session
func (mb *tcpTransporter) Connect() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect(context.Background())
}

func (mb *tcpTransporter) connect(ctx context.Context) error {
	if mb.conn != nil {
		return nil
	}
	dial := mb.Dial
	if dial == nil {
		dial = defaultDialFunc(mb.Timeout)
	}
	conn, err := dial(ctx, "tcp", mb.Address)
	if err != nil {
		return err
	}
	if mb.TLSConfig != nil {
		tlsConn := tls.Client(conn, mb.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("modbus: tls handshake with '%v' failed: %w", mb.Address, err)
		}
		conn = tlsConn
	}
	mb.conn = conn
	return nil
}

func (mb *tcpTransporter) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

// Close closes current connection.
func (mb *tcpTransporter) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

// flush flushes pending data in the connection,
// returns io.EOF if connection is closed.
func (mb *tcpTransporter) flush(b []byte) (err error) {
	if err = mb.conn.SetReadDeadline(time.Now()); err != nil {
		return
	}
	// Timeout setting will be reset when reading
	if _, err = mb.conn.Read(b); err != nil {
		// Ignore timeout error
		if netError, ok := err.(net.Error); ok && netError.Timeout() {
			err = nil
		}
	}
	return
}

func (mb *tcpTransporter) logf(format string, v ...interface{}) {
	if mb.Logger != nil {
		mb.Logger.Printf(format, v...)
	}
}

// close closes current connection. Caller must hold the mutex before calling this method.
func (mb *tcpTransporter) close() (err error) {
	if mb.conn != nil {
		err = mb.conn.Close()
		mb.conn = nil
	}
	return
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (mb *tcpTransporter) closeIdle() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.IdleTimeout <= 0 {
		return
	}
	idle := time.Since(mb.lastActivity)
	if idle >= mb.IdleTimeout {
		mb.logf("modbus: closing connection due to idle timeout: %v", idle)
		mb.close()
	}
}

// flushAll implements a non-blocking read flush.  Be warned it resets
// the read deadline.
func (mb *tcpTransporter) flushAll() (int, error) {
	if err := mb.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}

	count := 0
	buffer := make([]byte, 1024)

	for {
		n, err := mb.conn.Read(buffer)

		if err != nil {
			return count + n, err
		} else if n > 0 {
			count = count + n
		} else {
			// didn't flush any new bytes, return
			return count, err
		}
	}
}
