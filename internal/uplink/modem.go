package uplink

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// ErrBusy means the modem refused the transmit because a previous one
// is still in flight or no channel is free. Busy is the one condition
// worth retrying.
var ErrBusy = errors.New("uplink: modem busy")

// Modem is the transmit surface the worker drives.
type Modem interface {
	Join() error
	Send(frame []byte, port uint8) error
	Close() error
}

// SerialPort is the slice of a serial device the modem driver needs.
type SerialPort interface {
	io.ReadWriter
	io.Closer
}

// SerialModem drives an RN2483-style LoRaWAN modem over its
// line-oriented command protocol: each command is answered with a
// status line, and transmits with a second completion line.
type SerialModem struct {
	mu   sync.Mutex
	port SerialPort
	br   *bufio.Reader
}

// OpenModem opens the modem on a serial device. The RN2483 console
// runs at 57600 baud.
func OpenModem(device string, baud int) (*SerialModem, error) {
	if baud <= 0 {
		baud = 57600
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("uplink: open %s: %w", device, err)
	}
	return NewSerialModem(port), nil
}

// NewSerialModem wraps an already-open port, which tests back with a
// scripted buffer.
func NewSerialModem(port SerialPort) *SerialModem {
	return &SerialModem{port: port, br: bufio.NewReader(port)}
}

// Version queries the modem firmware banner.
func (m *SerialModem) Version() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.command("sys get ver")
}

// Join performs an over-the-air activation. The modem answers the
// command with an immediate status and the join outcome as a second
// line once the exchange completes.
func (m *SerialModem) Join() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.command("mac join otaa")
	if err != nil {
		return err
	}
	if resp != "ok" {
		return fmt.Errorf("uplink: join refused: %s", resp)
	}
	outcome, err := m.readLine()
	if err != nil {
		return err
	}
	if outcome != "accepted" {
		return fmt.Errorf("uplink: join %s", outcome)
	}
	return nil
}

// Send transmits frame unconfirmed on the given port. Busy conditions
// map to ErrBusy; every other refusal is terminal for this frame.
func (m *SerialModem) Send(frame []byte, port uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.command(fmt.Sprintf("mac tx uncnf %d %s", port, strings.ToUpper(hex.EncodeToString(frame))))
	if err != nil {
		return err
	}
	switch resp {
	case "ok":
	case "busy", "no_free_ch":
		return ErrBusy
	default:
		return fmt.Errorf("uplink: tx refused: %s", resp)
	}
	outcome, err := m.readLine()
	if err != nil {
		return err
	}
	if outcome != "mac_tx_ok" {
		return fmt.Errorf("uplink: tx failed: %s", outcome)
	}
	return nil
}

func (m *SerialModem) Close() error {
	return m.port.Close()
}

func (m *SerialModem) command(cmd string) (string, error) {
	if _, err := io.WriteString(m.port, cmd+"\r\n"); err != nil {
		return "", fmt.Errorf("uplink: write %q: %w", cmd, err)
	}
	return m.readLine()
}

func (m *SerialModem) readLine() (string, error) {
	line, err := m.br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("uplink: read response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
