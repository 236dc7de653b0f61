package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// resendInterval is how often an unacked reliable packet is retransmitted.
const resendInterval = 250 * time.Millisecond

// maxResends bounds how many times a reliable packet is retried before the
// session gives up on it and lets the higher-level Disconnected transition
// handle recovery.
const maxResends = 20

// frame is the wire shape of one UDP datagram: a 1-byte flag, a 4-byte
// little-endian sequence number (0 for unreliable frames; an ack frame carries
// the sequence number it acknowledges), then the
// opaque packet (2-byte opcode + payload). This is a minimal reliable-enough
// framing, not the retail session layer's real wire format (out of scope for
// this implementation).
const (
	flagData = 0x01
	flagAck  = 0x02
)

type pendingSend struct {
	seq     uint32
	data    []byte
	sentAt  time.Time
	resends int
}

// UDPSession is this module's concrete Session over net.UDPConn. One
// instance is used per logical server connection (login, world, zone).
type UDPSession struct {
	addr *net.UDPAddr

	mu     sync.Mutex
	conn   *net.UDPConn
	status Status
	nextSeq uint32
	pending map[uint32]*pendingSend
	seen    map[uint32]bool

	events   []Event
	stopRead chan struct{}
	readDone chan struct{}
}

// NewUDPSession resolves host:port and returns a session not yet connected.
func NewUDPSession(host string, port uint16) (*UDPSession, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%d: %w", host, port, err)
	}
	return &UDPSession{
		addr:    addr,
		status:  Disconnected,
		pending: make(map[uint32]*pendingSend),
		seen:    make(map[uint32]bool),
	}, nil
}

func (s *UDPSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect dials the UDP socket and starts the background reader goroutine.
// The reader only ever appends to s.events under the lock; all decision
// making happens later on the Poll caller's goroutine: the event pump is
// the only place that blocks for I/O or mutates shared state.
func (s *UDPSession) Connect(ctx context.Context) error {
	s.setStatus(Connecting)

	conn, err := net.DialUDP("udp", nil, s.addr)
	if err != nil {
		s.setStatus(Disconnected)
		return fmt.Errorf("dialing %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.stopRead = make(chan struct{})
	s.readDone = make(chan struct{})
	stopRead := s.stopRead
	readDone := s.readDone
	s.mu.Unlock()

	go s.readLoop(conn, stopRead, readDone)
	go s.resendLoop(stopRead)

	s.setStatus(Connected)
	s.pushEvent(Event{NewConnection: true})
	return nil
}

func (s *UDPSession) Close() error {
	s.mu.Lock()
	conn := s.conn
	stopRead := s.stopRead
	s.conn = nil
	s.mu.Unlock()

	if stopRead != nil {
		close(stopRead)
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return err
		}
	}
	s.setStatus(Disconnected)
	return nil
}

func (s *UDPSession) setStatus(to Status) {
	s.mu.Lock()
	from := s.status
	s.status = to
	s.mu.Unlock()
	if from != to {
		s.pushEvent(Event{StatusChange: &StatusChange{From: from, To: to}})
	}
}

func (s *UDPSession) pushEvent(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Poll drains every event queued since the last call. Never blocks.
func (s *UDPSession) Poll() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	out := s.events
	s.events = nil
	return out
}

// QueuePacket frames pkt and sends it. Reliable packets are tracked for
// resend until acked; unreliable ones are fire-and-forget. streamID is
// accepted for interface parity with Session but this transport doesn't
// multiplex streams — every packet shares one ordering domain, which is
// sufficient for the login/world/zone handshakes this module drives.
func (s *UDPSession) QueuePacket(pkt Packet, streamID int, reliable bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("session not connected")
	}

	body := make([]byte, 2+len(pkt.Payload))
	binary.LittleEndian.PutUint16(body[0:2], pkt.Opcode)
	copy(body[2:], pkt.Payload)

	if !reliable {
		return s.sendFrame(conn, 0, body)
	}

	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.pending[seq] = &pendingSend{seq: seq, data: body, sentAt: time.Now()}
	s.mu.Unlock()

	return s.sendFrame(conn, seq, body)
}

func (s *UDPSession) sendFrame(conn *net.UDPConn, seq uint32, body []byte) error {
	flag := byte(flagData)
	if seq == 0 {
		flag = 0
	}
	frame := make([]byte, 5+len(body))
	frame[0] = flag
	binary.LittleEndian.PutUint32(frame[1:5], seq)
	copy(frame[5:], body)
	_, err := conn.Write(frame)
	return err
}

func (s *UDPSession) sendAck(conn *net.UDPConn, seq uint32) {
	frame := make([]byte, 5)
	frame[0] = flagAck
	binary.LittleEndian.PutUint32(frame[1:5], seq)
	_, _ = conn.Write(frame)
}

// readLoop reads datagrams off the wire and turns them into queued events
// or ack bookkeeping. It never touches session-level decision state beyond
// the seen/pending maps, which are themselves lock-protected.
func (s *UDPSession) readLoop(conn *net.UDPConn, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 65535)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.setStatus(Disconnected)
			return
		}
		if n < 5 {
			continue
		}
		flag := buf[0]
		seq := binary.LittleEndian.Uint32(buf[1:5])
		payload := append([]byte(nil), buf[5:n]...)

		switch {
		case flag&flagAck != 0:
			s.mu.Lock()
			delete(s.pending, seq)
			s.mu.Unlock()
		case flag&flagData != 0 || seq == 0:
			if seq != 0 {
				s.mu.Lock()
				dup := s.seen[seq]
				s.seen[seq] = true
				s.mu.Unlock()
				s.sendAck(conn, seq)
				if dup {
					continue
				}
			}
			if len(payload) < 2 {
				continue
			}
			opcode := binary.LittleEndian.Uint16(payload[0:2])
			s.pushEvent(Event{Packet: &Packet{Opcode: opcode, Payload: payload[2:]}})
		}
	}
}

// resendLoop retransmits reliable packets that haven't been acked yet. A
// packet that exceeds maxResends is dropped from the pending set; the
// protocol driver observes the eventual Disconnected transition rather
// than a per-packet failure.
func (s *UDPSession) resendLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(resendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			now := time.Now()
			for seq, p := range s.pending {
				if now.Sub(p.sentAt) < resendInterval {
					continue
				}
				if p.resends >= maxResends {
					delete(s.pending, seq)
					continue
				}
				p.resends++
				p.sentAt = now
				if conn != nil {
					_ = s.sendFrame(conn, seq, p.data)
				}
			}
			s.mu.Unlock()
		}
	}
}
