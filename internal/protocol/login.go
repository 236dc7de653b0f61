package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/wire"
)

// LoginStage is the login-phase state machine.
type LoginStage int

const (
	LoginDialing LoginStage = iota
	LoginSentSessionReady
	LoginWaitChat
	LoginSentLogin
	LoginWaitLoginAccepted
	LoginSentServerList
	LoginWaitServerList
	LoginSentPlayRequest
	LoginWaitPlayResponse
	LoginHandedOffToWorld
	LoginFailed
)

// reconnectBackoff is the fixed delay between a Disconnected transition
// and the next reconnect attempt, grounded on original_source/hc/eq.cpp's
// reconnect-then-retry shape.
const reconnectBackoff = 2 * time.Second

// WorldServerEntry is one row of the login server's listing.
type WorldServerEntry struct {
	ID       uint32
	Address  string
	LongName string
	Lang     string
	Region   string
	Type     uint8
	Status   int32
	Players  uint32
}

// LoginPhase holds all state for the login handshake.
type LoginPhase struct {
	session session.Session
	cfg     Config

	stage LoginStage
	seq   uint32

	dbid uint32
	key  string

	servers       map[uint32]WorldServerEntry
	chosenServer  WorldServerEntry

	reconnectEnabled bool
	disconnectedAt   time.Time
}

func NewLoginPhase(sess session.Session, cfg Config) *LoginPhase {
	return &LoginPhase{
		session:          sess,
		cfg:              cfg,
		stage:            LoginDialing,
		seq:              2, // monotonic counter starting at 2
		servers:          make(map[uint32]WorldServerEntry),
		reconnectEnabled: true,
	}
}

func (p *LoginPhase) Stage() LoginStage { return p.stage }

// ChosenServer is valid once the stage has reached LoginSentPlayRequest or
// later.
func (p *LoginPhase) ChosenServer() WorldServerEntry { return p.chosenServer }

// DisableReconnect is called once handoff to world begins; the login
// session no longer auto-reconnects and is closed.
func (p *LoginPhase) DisableReconnect() {
	p.reconnectEnabled = false
	_ = p.session.Close()
}

// HandleEvent dispatches one session.Event through the login state
// machine, returning an error only for fatal conditions (ErrAuth /
// ErrProtocol).
func (p *LoginPhase) HandleEvent(ctx context.Context, ev session.Event) error {
	logger := log.GetLogger(ctx)

	switch {
	case ev.StatusChange != nil:
		return p.onStatusChange(ctx, *ev.StatusChange)
	case ev.Packet != nil:
		return p.onPacket(ctx, *ev.Packet)
	default:
		logger.Debug("login phase: unhandled event")
		return nil
	}
}

func (p *LoginPhase) onStatusChange(ctx context.Context, sc session.StatusChange) error {
	logger := log.GetLogger(ctx)

	if sc.To == session.Connected {
		return p.sendSessionReady()
	}

	if sc.To == session.Disconnected {
		if p.stage >= LoginHandedOffToWorld || !p.reconnectEnabled {
			logger.Info("login session disconnected, reconnect disabled")
			return nil
		}
		logger.Warn("login session disconnected, reconnecting")
		p.stage = LoginDialing
		p.dbid = 0
		p.key = ""
		p.disconnectedAt = time.Now()
		time.Sleep(reconnectBackoff)
		return p.session.Connect(ctx)
	}
	return nil
}

// sendSessionReady sends the initial handshake packet.
func (p *LoginPhase) sendSessionReady() error {
	w := wire.NewWriter(12)
	w.PutU32(p.seq)
	w.PutU32(0)
	w.PutU32(2048)
	p.seq++

	if err := p.session.QueuePacket(session.Packet{Opcode: OpSessionReady, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending SessionReady: %w", err)
	}
	p.stage = LoginSentSessionReady
	return nil
}

func (p *LoginPhase) onPacket(ctx context.Context, pkt session.Packet) error {
	switch pkt.Opcode {
	case OpChatMessage:
		return p.sendLogin()
	case OpLoginAccepted:
		return p.onLoginAccepted(pkt.Payload)
	case OpServerListResponse:
		return p.onServerListResponse(pkt.Payload)
	case OpPlayEverquestResponse:
		return p.onPlayResponse(pkt.Payload)
	default:
		log.GetLogger(ctx).Debugf("login phase: ignoring opcode %#x in stage %v", pkt.Opcode, p.stage)
		return nil
	}
}

// sendLogin encrypts and sends the account credentials.
func (p *LoginPhase) sendLogin() error {
	cred, err := wire.EncryptCredentials(p.cfg.User, p.cfg.Pass)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}

	w := wire.NewWriter(len(cred) + 4)
	w.PutU32(LoginMagic)
	w.PutBytes(cred)

	if err := p.session.QueuePacket(session.Packet{Opcode: OpLogin, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending Login: %w", err)
	}
	p.stage = LoginSentLogin
	return nil
}

// onLoginAccepted decrypts the response and requests the server list.
func (p *LoginPhase) onLoginAccepted(payload []byte) error {
	plain, err := wire.DecryptLoginResponse(payload)
	if err != nil {
		return fmt.Errorf("%w: decrypting LoginAccepted: %v", ErrProtocol, err)
	}

	r := wire.NewReader(plain)
	code, err := r.U8At(1)
	if err != nil {
		return fmt.Errorf("%w: reading LoginAccepted response code: %v", ErrProtocol, err)
	}
	if code > 101 {
		p.stage = LoginFailed
		return fmt.Errorf("%w: login response code %d", ErrAuth, code)
	}

	dbid, err := r.U32At(8)
	if err != nil {
		return fmt.Errorf("%w: reading LoginAccepted dbid: %v", ErrProtocol, err)
	}
	key, err := r.CStringAt(12)
	if err != nil {
		return fmt.Errorf("%w: reading LoginAccepted key: %v", ErrProtocol, err)
	}
	p.dbid = dbid
	p.key = key

	w := wire.NewWriter(0)
	if err := p.session.QueuePacket(session.Packet{Opcode: OpServerListRequest, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending ServerListRequest: %w", err)
	}
	p.stage = LoginSentServerList
	return nil
}

// onServerListResponse parses the server list. Layout: count at
// offset 18, then variable-length records of (address, type, id,
// long_name, lang, region, status, players).
func (p *LoginPhase) onServerListResponse(payload []byte) error {
	r := wire.NewReader(payload)
	count, err := r.U32At(18)
	if err != nil {
		return fmt.Errorf("%w: reading ServerListResponse count: %v", ErrProtocol, err)
	}

	off := 22
	for i := uint32(0); i < count; i++ {
		addr, err := r.CStringAt(off)
		if err != nil {
			return fmt.Errorf("%w: server %d address: %v", ErrProtocol, i, err)
		}
		off += len(addr) + 1

		typ, err := r.U8At(off)
		if err != nil {
			return fmt.Errorf("%w: server %d type: %v", ErrProtocol, i, err)
		}
		off++

		id, err := r.U32At(off)
		if err != nil {
			return fmt.Errorf("%w: server %d id: %v", ErrProtocol, i, err)
		}
		off += 4

		longName, err := r.CStringAt(off)
		if err != nil {
			return fmt.Errorf("%w: server %d long_name: %v", ErrProtocol, i, err)
		}
		off += len(longName) + 1

		lang, err := r.CStringAt(off)
		if err != nil {
			return fmt.Errorf("%w: server %d lang: %v", ErrProtocol, i, err)
		}
		off += len(lang) + 1

		region, err := r.CStringAt(off)
		if err != nil {
			return fmt.Errorf("%w: server %d region: %v", ErrProtocol, i, err)
		}
		off += len(region) + 1

		status, err := r.U32At(off)
		if err != nil {
			return fmt.Errorf("%w: server %d status: %v", ErrProtocol, i, err)
		}
		off += 4

		players, err := r.U32At(off)
		if err != nil {
			return fmt.Errorf("%w: server %d players: %v", ErrProtocol, i, err)
		}
		off += 4

		p.servers[id] = WorldServerEntry{
			ID: id, Address: addr, LongName: longName, Lang: lang,
			Region: region, Type: typ, Status: int32(status), Players: players,
		}
	}

	for _, s := range p.servers {
		if s.LongName == p.cfg.Server {
			p.chosenServer = s
			return p.sendPlayRequest(s.ID)
		}
	}
	p.stage = LoginFailed
	return fmt.Errorf("%w: no world server named %q in server list", ErrAuth, p.cfg.Server)
}

func (p *LoginPhase) sendPlayRequest(serverID uint32) error {
	w := wire.NewWriter(4)
	w.PutU32(serverID)
	if err := p.session.QueuePacket(session.Packet{Opcode: OpPlayEverquestRequest, Payload: w.Bytes()}, 0, true); err != nil {
		return fmt.Errorf("sending PlayEverquestRequest: %w", err)
	}
	p.stage = LoginSentPlayRequest
	return nil
}

// onPlayResponse checks whether the world server granted the play request.
func (p *LoginPhase) onPlayResponse(payload []byte) error {
	r := wire.NewReader(payload)
	allowed, err := r.U8At(0)
	if err != nil {
		return fmt.Errorf("%w: reading PlayEverquestResponse allowed: %v", ErrProtocol, err)
	}
	if allowed == 0 {
		p.stage = LoginFailed
		return fmt.Errorf("%w: world denied play request", ErrAuth)
	}
	p.stage = LoginHandedOffToWorld
	return nil
}

// DBID and Key are needed by the world phase's SendLoginInfo packet.
func (p *LoginPhase) DBID() uint32 { return p.dbid }
func (p *LoginPhase) Key() string  { return p.key }
