// Package listener provides the net.Listener wrappers used by the orderproc HTTP server.
package listener

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultHandshakeTimeout bounds the protocol peek and the TLS handshake of a connection.
const DefaultHandshakeTimeout = 10 * time.Second

// connWrapper wraps a net.Conn and reads through the buffered reader that holds the peeked bytes
type connWrapper struct {
	net.Conn
	io.Reader
}

// connWrapper.Read method will read from the io.Reader instead of the net.Conn
func (cw *connWrapper) Read(b []byte) (int, error) {
	return cw.Reader.Read(b)
}

// ProtocolMuxListener serves TLS and plain HTTP on the same port.
// Each accepted connection is classified by its first bytes in its own goroutine, so a slow
// or silent client never holds up the accept loop. Classification errors are returned from
// Accept and should be absorbed by a ResilientListener.
type ProtocolMuxListener struct {
	net.Listener
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration

	conns     chan net.Conn
	errs      chan error
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewProtocolMuxListener(listener net.Listener, tlsConfig *tls.Config) *ProtocolMuxListener {
	return &ProtocolMuxListener{
		Listener:         listener,
		TLSConfig:        tlsConfig,
		HandshakeTimeout: DefaultHandshakeTimeout,
		conns:            make(chan net.Conn),
		errs:             make(chan error),
		done:             make(chan struct{}),
	}
}

func (l *ProtocolMuxListener) Accept() (net.Conn, error) {
	l.startOnce.Do(func() { go l.acceptLoop() })
	select {
	case conn := <-l.conns:
		return conn, nil
	case err := <-l.errs:
		return nil, err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops the accept loop and closes the underlying listener.
func (l *ProtocolMuxListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.Listener.Close()
}

func (l *ProtocolMuxListener) acceptLoop() {
	for {
		rawConnection, err := l.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.closeOnce.Do(func() { close(l.done) })
				return
			}
			if !l.deliverErr(fmt.Errorf("accepting connection: %w", err)) {
				return
			}
			continue
		}
		go l.classify(rawConnection)
	}
}

func (l *ProtocolMuxListener) classify(rawConnection net.Conn) {
	conn, err := l.sniff(rawConnection)
	if err != nil {
		l.deliverErr(err)
		return
	}
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

func (l *ProtocolMuxListener) deliverErr(err error) bool {
	select {
	case l.errs <- err:
		return true
	case <-l.done:
		return false
	}
}

func (l *ProtocolMuxListener) sniff(rawConnection net.Conn) (net.Conn, error) {
	timeout := l.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	bufferedReader := bufio.NewReader(rawConnection)

	err := rawConnection.SetReadDeadline(time.Now().Add(timeout))
	if err != nil {
		rawConnection.Close()
		return nil, fmt.Errorf("setting read deadline for peek: %w", err)
	}

	peekedBytes, err := bufferedReader.Peek(5)

	if err := rawConnection.SetReadDeadline(time.Time{}); err != nil {
		rawConnection.Close()
		return nil, fmt.Errorf("clearing read deadline after peek: %w", err)
	}
	if err != nil && err != bufio.ErrBufferFull {
		rawConnection.Close()
		return nil, fmt.Errorf("peeking initial bytes: %w", err)
	}

	// TLS record header: handshake content type followed by a 3.x version
	isTLS := len(peekedBytes) >= 2 && peekedBytes[0] == 0x16 && peekedBytes[1] == 0x03
	if !isTLS {
		return &connWrapper{Conn: rawConnection, Reader: bufferedReader}, nil
	}
	if l.TLSConfig == nil {
		rawConnection.Close()
		return nil, errors.New("tls connection received but no certificate is configured")
	}

	tlsConn := tls.Server(&connWrapper{Conn: rawConnection, Reader: bufferedReader}, l.TLSConfig)
	err = rawConnection.SetReadDeadline(time.Now().Add(timeout))
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("setting read deadline for handshake: %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("performing tls handshake: %w", err)
	}
	err = rawConnection.SetReadDeadline(time.Time{})
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("clearing read deadline after handshake: %w", err)
	}
	return tlsConn, nil
}

// ResilientListener keeps accepting after recoverable errors, such as failed handshakes,
// so http.Server.Serve only returns once the listener is closed.
type ResilientListener struct {
	net.Listener
	Logger *slog.Logger
}

func NewResilientListener(listenerToWrap net.Listener, logger *slog.Logger) *ResilientListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ResilientListener{Listener: listenerToWrap, Logger: logger}
}

// Accept only returns an error once the wrapped listener is closed.
func (l *ResilientListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			l.Logger.Debug("recoverable listener error, connection rejected", "error", err)
			continue
		}
		return conn, nil
	}
}
