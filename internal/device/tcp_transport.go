package device

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
)

// Vendor opcodes for the length-prefixed control protocol: 2-byte opcode,
// 4-byte big-endian payload length, payload.
const (
	opSetScanParams uint16 = 0x01
	opGetScanParams uint16 = 0x02
	opStartScan     uint16 = 0x03
	opStopScan      uint16 = 0x04
	opBufferStatus  uint16 = 0x05
	opReadBuffer    uint16 = 0x06
	opRelease       uint16 = 0x07
)

// TCPTransport is the real Transport implementation: it dials the device's
// TCP control session and speaks the vendor's opcode+length-prefixed frame
// format. The vendor transport library's internals are out of scope for
// this module; this is the minimal reimplementation needed to drive the
// device's documented capability table.
type TCPTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	rw      *bufio.ReadWriter
	lastErr error
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Open(ctx context.Context, ip string, port int) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return fmt.Errorf("dial device %s:%d: %w", ip, port, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	t.mu.Unlock()
	return nil
}

func (t *TCPTransport) sendFrame(op uint16, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rw == nil {
		return fmt.Errorf("device transport: not open")
	}
	header := make([]byte, 6)
	binary.BigEndian.PutUint16(header[0:2], op)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	if _, err := t.rw.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := t.rw.Write(payload); err != nil {
			return err
		}
	}
	return t.rw.Flush()
}

func (t *TCPTransport) recvFrame() (uint16, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rw == nil {
		return 0, nil, fmt.Errorf("device transport: not open")
	}
	header := make([]byte, 6)
	if _, err := iofullRead(t.rw, header); err != nil {
		return 0, nil, err
	}
	op := binary.BigEndian.Uint16(header[0:2])
	n := binary.BigEndian.Uint32(header[2:6])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := iofullRead(t.rw, payload); err != nil {
			return 0, nil, err
		}
	}
	return op, payload, nil
}

func iofullRead(r *bufio.ReadWriter, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func (t *TCPTransport) SetScanParams(p ScanParams) error {
	payload := make([]byte, 13)
	payload[0] = p.ChannelMask
	binary.BigEndian.PutUint32(payload[1:5], uint32(p.SampleRate))
	payload[5] = byte(p.Gain)
	payload[6] = byte(p.TriggerMode)
	binary.BigEndian.PutUint32(payload[7:11], uint32(p.TargetCount))
	payload[11] = byte(p.DataTransMethod)
	if p.AutoRun {
		payload[12] = 1
	}
	if err := t.sendFrame(opSetScanParams, payload); err != nil {
		return err
	}
	_, _, err := t.recvFrame()
	return err
}

func (t *TCPTransport) GetScanParams() (ScanParams, error) {
	if err := t.sendFrame(opGetScanParams, nil); err != nil {
		return ScanParams{}, err
	}
	_, payload, err := t.recvFrame()
	if err != nil || len(payload) < 13 {
		return ScanParams{}, err
	}
	return ScanParams{
		ChannelMask:     payload[0],
		SampleRate:      int(binary.BigEndian.Uint32(payload[1:5])),
		Gain:            int(payload[5]),
		TriggerMode:     int(payload[6]),
		TargetCount:     int(binary.BigEndian.Uint32(payload[7:11])),
		DataTransMethod: int(payload[11]),
		AutoRun:         payload[12] != 0,
	}, nil
}

func (t *TCPTransport) StartScan() error {
	if err := t.sendFrame(opStartScan, nil); err != nil {
		return err
	}
	_, _, err := t.recvFrame()
	return err
}

func (t *TCPTransport) StopScan() error {
	if err := t.sendFrame(opStopScan, nil); err != nil {
		return err
	}
	_, _, err := t.recvFrame()
	return err
}

func (t *TCPTransport) BufferStatus() (uint8, int, error) {
	if err := t.sendFrame(opBufferStatus, nil); err != nil {
		return 0, 0, err
	}
	_, payload, err := t.recvFrame()
	if err != nil || len(payload) < 5 {
		return 0, 0, err
	}
	status := payload[0]
	count := int(binary.BigEndian.Uint32(payload[1:5]))
	return status, count, nil
}

func (t *TCPTransport) ReadBuffer(max int) ([]float64, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(max))
	if err := t.sendFrame(opReadBuffer, payload); err != nil {
		return nil, err
	}
	_, resp, err := t.recvFrame()
	if err != nil {
		return nil, err
	}
	n := len(resp) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.BigEndian.Uint64(resp[i*8 : i*8+8])
		out[i] = math.Float64frombits(bits)
	}
	return out, nil
}

func (t *TCPTransport) Release() error {
	if err := t.sendFrame(opRelease, nil); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *TCPTransport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}
