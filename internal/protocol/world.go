package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/wire"
)

// WorldStage is the world-phase state machine.
type WorldStage int

const (
	WorldConnecting WorldStage = iota
	WorldSentLoginInfo
	WorldWaitExpansionInfo
	WorldSentAckAndReady
	WorldWaitCharSelect
	WorldSentEnterWorld
	WorldWaitZoneServerInfo
	WorldHandedOffToZone
	WorldFailed
)

// ChatServerInfo is the comma-separated SetChatServer payload, recorded
// for future use but not dialed by this module (the UCS sub-client is out
// of scope for this implementation).
type ChatServerInfo struct {
	Host            string
	Port            string
	ServerCharacter string
	ConnType        string
	MailKey         string
}

// WorldPhase holds all state for the world handoff and character
// selection.
type WorldPhase struct {
	session session.Session
	cfg     Config
	dbid    uint32
	key     string

	stage WorldStage

	charSlot int
	chat     ChatServerInfo

	zoneHost string
	zonePort uint16

	reconnectEnabled bool
}

func NewWorldPhase(sess session.Session, cfg Config, dbid uint32, key string) *WorldPhase {
	return &WorldPhase{
		session: sess, cfg: cfg, dbid: dbid, key: key,
		stage: WorldConnecting, charSlot: -1,
	}
}

func (p *WorldPhase) Stage() WorldStage { return p.stage }
func (p *WorldPhase) ZoneAddress() (string, uint16) { return p.zoneHost, p.zonePort }
func (p *WorldPhase) ChatServer() ChatServerInfo { return p.chat }

func (p *WorldPhase) HandleEvent(ctx context.Context, ev session.Event) error {
	logger := log.GetLogger(ctx)
	switch {
	case ev.StatusChange != nil && ev.StatusChange.To == session.Connected:
		return p.sendLoginInfo()
	case ev.StatusChange != nil && ev.StatusChange.To == session.Disconnected:
		logger.Warn("world session disconnected; world sessions do not auto-reconnect")
		p.stage = WorldFailed
		return fmt.Errorf("%w: world session disconnected", ErrTransport)
	case ev.Packet != nil:
		return p.onPacket(ctx, *ev.Packet)
	default:
		return nil
	}
}

// sendLoginInfo builds the SendLoginInfo layout: 2-byte
// opcode (carried separately by session.Packet), then a 464-byte block:
// dbid as decimal string, a zero byte, session key, zero-filled
// thereafter, byte 188 of the block set to 0 (not zoning).
func (p *WorldPhase) sendLoginInfo() error {
	w := wire.NewFixedWriter(464)
	dbidStr := strconv.FormatUint(uint64(p.dbid), 10)
	w.PutFixedStringAt(0, 19, dbidStr) // 18 chars + terminator, matches the zero-byte-after rule
	w.PutFixedStringAt(len(dbidStr)+1, 16, p.key)
	w.PutU8At(188, 0) // not zoning

	if err := p.session.QueuePacket(session.Packet{Opcode: OpSendLoginInfo, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending SendLoginInfo: %w", err)
	}
	p.stage = WorldSentLoginInfo
	return nil
}

func (p *WorldPhase) onPacket(ctx context.Context, pkt session.Packet) error {
	logger := log.GetLogger(ctx)
	switch pkt.Opcode {
	case OpApproveWorld:
		return p.onApproveWorld()
	case OpExpansionInfo:
		return p.onExpansionInfo()
	case OpSendCharInfo:
		return p.onSendCharInfo(pkt.Payload)
	case OpSetChatServer, OpSetChatServer2:
		p.onSetChatServer(pkt.Payload)
		return nil
	case OpZoneServerInfo:
		return p.onZoneServerInfo(pkt.Payload)
	default:
		logger.Debugf("world phase: ignoring opcode %#x in stage %v", pkt.Opcode, p.stage)
		return nil
	}
}

// onApproveWorld replies with a 274-byte zero-filled
// ApproveWorld, then two 2058-byte zero-filled World_Client_CRC messages.
func (p *WorldPhase) onApproveWorld() error {
	if err := p.session.QueuePacket(session.Packet{Opcode: OpApproveWorld, Payload: wire.NewFixedWriter(274).Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending ApproveWorld: %w", err)
	}
	if err := p.session.QueuePacket(session.Packet{Opcode: OpWorldClientCRC1, Payload: wire.NewFixedWriter(2058).Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending World_Client_CRC (1): %w", err)
	}
	if err := p.session.QueuePacket(session.Packet{Opcode: OpWorldClientCRC2, Payload: wire.NewFixedWriter(2058).Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending World_Client_CRC (2): %w", err)
	}
	return nil
}

// onExpansionInfo acks, readies, then sends EnterWorld with
// the configured character name at offset 2 of a 64-byte field.
func (p *WorldPhase) onExpansionInfo() error {
	if err := p.session.QueuePacket(session.Packet{Opcode: OpAckPacket, Payload: wire.NewFixedWriter(6).Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending AckPacket: %w", err)
	}
	if err := p.session.QueuePacket(session.Packet{Opcode: OpWorldClientReady, Payload: wire.NewFixedWriter(2).Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending WorldClientReady: %w", err)
	}

	w := wire.NewFixedWriter(74)
	w.PutFixedStringAt(2, 64, p.cfg.Character)
	if err := p.session.QueuePacket(session.Packet{Opcode: OpEnterWorld, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending EnterWorld: %w", err)
	}
	p.stage = WorldSentEnterWorld
	return nil
}

// onSendCharInfo matches the configured character against the 10-slot
// character-select list: ten
// 64-byte name slots beginning at byte 1024, matched case-sensitively.
func (p *WorldPhase) onSendCharInfo(payload []byte) error {
	if len(payload) < 1706 {
		return fmt.Errorf("%w: SendCharInfo payload too short (%d bytes)", ErrProtocol, len(payload))
	}

	r := wire.NewReader(payload)
	const (
		slotBase  = 1024
		slotWidth = 64
		slotCount = 10
	)
	for i := 0; i < slotCount; i++ {
		name, err := r.FixedStringAt(slotBase+i*slotWidth, slotWidth)
		if err != nil {
			return fmt.Errorf("%w: reading character slot %d: %v", ErrProtocol, i, err)
		}
		if name == p.cfg.Character {
			p.charSlot = i
			p.stage = WorldWaitCharSelect
			return nil
		}
	}
	return fmt.Errorf("%w: character %q not found among character-select slots", ErrAuth, p.cfg.Character)
}

// onSetChatServer parses the comma-separated
// host,port,server.character,conn_type,mail_key payload.
func (p *WorldPhase) onSetChatServer(payload []byte) {
	r := wire.NewReader(payload)
	s, err := r.CStringAt(0)
	if err != nil {
		s = string(payload)
	}
	fields := strings.Split(s, ",")
	for len(fields) < 5 {
		fields = append(fields, "")
	}
	p.chat = ChatServerInfo{
		Host: fields[0], Port: fields[1], ServerCharacter: fields[2],
		ConnType: fields[3], MailKey: fields[4],
	}
}

// onZoneServerInfo reads host:cstr at offset 2, port:u16
// at offset 130; reply WorldComplete and open a zone session.
func (p *WorldPhase) onZoneServerInfo(payload []byte) error {
	r := wire.NewReader(payload)
	host, err := r.CStringAt(2)
	if err != nil {
		return fmt.Errorf("%w: reading ZoneServerInfo host: %v", ErrProtocol, err)
	}
	port, err := r.U16At(130)
	if err != nil {
		return fmt.Errorf("%w: reading ZoneServerInfo port: %v", ErrProtocol, err)
	}
	p.zoneHost = host
	p.zonePort = port

	if err := p.session.QueuePacket(session.Packet{Opcode: OpWorldComplete, Payload: nil}, 0, true); err != nil {
		return fmt.Errorf("sending WorldComplete: %w", err)
	}
	p.stage = WorldHandedOffToZone
	return nil
}
