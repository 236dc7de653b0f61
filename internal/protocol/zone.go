package protocol

import (
	"context"
	"fmt"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/wire"
)

// zoneFlags is the bring-up bookkeeping the five-stage handshake needs;
// kept as individual bools rather than a bitmask so FullyZonedIn and its
// tests can read each gate directly.
type zoneFlags struct {
	sessionEstablished bool
	weatherReceived    bool
	reqNewZoneSent     bool
	newZoneReceived    bool
	aaTableSent        bool
	updateAASent       bool
	tributesSent       bool
	guildTributesSent  bool
	aaTableRecv        bool
	tributeInfoRecv    bool
	guildTributesRecv  bool
	reqClientSpawnSent bool
	worldObjectsSent   bool
	expZoneinSent         bool
	sendExpZoneinReceived bool
	serverFilterSent      bool
	clientReadySent       bool
}

// spawnRecordSize is the fixed width of one Spawn_Struct entry in a
// ZoneSpawns packet. ZoneSpawns carries a 2-byte header before the first
// record; field offsets below are relative to the start of each record.
const spawnRecordSize = 385

const (
	spawnOffName      = 7
	spawnOffHPPercent = 86
	spawnOffPosition  = 94
	spawnOffLevel     = 151
	spawnOffGuild     = 238
	spawnOffRace      = 284
	spawnOffClass     = 331
	spawnOffGender    = 334
	spawnOffSpawnID   = 340
	zoneSpawnsHeader  = 2
)

// ZonePhase drives the five-stage zone bring-up. It updates the shared
// entity.Model and movement.Engine directly as packets arrive, since both
// are meant to be driven from the single protocol-driver thread.
type ZonePhase struct {
	session  session.Session
	cfg      Config
	entities *entity.Model
	engine   *movement.Engine

	charName string
	zoneName string

	flags zoneFlags

	incomingChat []ChannelMessage
}

func NewZonePhase(sess session.Session, cfg Config, entities *entity.Model, engine *movement.Engine, charName string) *ZonePhase {
	return &ZonePhase{session: sess, cfg: cfg, entities: entities, engine: engine, charName: charName}
}

// ZoneName returns the zone's short name once NewZone has been received,
// or "" before then. The driver uses this to select the per-zone navmesh
// and terrain map, both loaded lazily rather than at startup.
func (p *ZonePhase) ZoneName() string { return p.zoneName }

// DrainIncomingChat returns every chat message received since the last
// call, clearing the buffer. The CLI dispatcher polls this once per tick.
func (p *ZonePhase) DrainIncomingChat() []ChannelMessage {
	msgs := p.incomingChat
	p.incomingChat = nil
	return msgs
}

// FullyZonedIn reports whether every gate in the S0-S4 bring-up sequence
// has fired, in order, ending with ClientReady sent.
func (p *ZonePhase) FullyZonedIn() bool {
	f := p.flags
	return f.sessionEstablished && f.weatherReceived && f.reqNewZoneSent &&
		f.newZoneReceived && f.aaTableSent && f.updateAASent && f.tributesSent &&
		f.guildTributesSent && f.reqClientSpawnSent && f.worldObjectsSent &&
		f.expZoneinSent && f.sendExpZoneinReceived && f.serverFilterSent && f.clientReadySent
}

func (p *ZonePhase) HandleEvent(ctx context.Context, ev session.Event) error {
	logger := log.GetLogger(ctx)
	switch {
	case ev.StatusChange != nil && ev.StatusChange.To == session.Connected:
		return p.sendZoneEntry()
	case ev.StatusChange != nil && ev.StatusChange.To == session.Disconnected:
		logger.Warn("zone session disconnected; zone sessions do not auto-reconnect")
		return fmt.Errorf("%w: zone session disconnected", ErrTransport)
	case ev.Packet != nil:
		return p.onPacket(ctx, *ev.Packet)
	default:
		return nil
	}
}

// sendZoneEntry sends the character name plus the unexplained magic
// value (kept as a literal; its meaning is unknown).
func (p *ZonePhase) sendZoneEntry() error {
	w := wire.NewWriter(len(p.charName) + 5)
	w.PutCString(p.charName)
	w.PutU32(ZoneEntryMagic)
	if err := p.session.QueuePacket(session.Packet{Opcode: OpZoneEntry, Payload: w.Bytes()}, 0, false); err != nil {
		return fmt.Errorf("sending ZoneEntry: %w", err)
	}
	return nil
}

func (p *ZonePhase) onPacket(ctx context.Context, pkt session.Packet) error {
	logger := log.GetLogger(ctx)
	switch pkt.Opcode {
	case OpPlayerProfile:
		return p.onPlayerProfile(pkt.Payload)
	case OpZoneSpawns:
		p.onZoneSpawns(pkt.Payload)
		return nil
	case OpWeather:
		return p.onWeather()
	case OpNewZone:
		return p.onNewZone(pkt.Payload)
	case OpSendAATable, OpUpdateAA:
		return p.onAATableResponse()
	case OpTributeInfo:
		return p.onTributeInfo()
	case OpSendGuildTributes:
		return p.onSendGuildTributes()
	case OpSendExpZonein:
		return p.onSendExpZoneinEcho()
	case OpGuildMOTD:
		return p.onGuildMOTD()
	case OpCharInventory, OpTimeOfDay, OpSpawnDoor, OpGroundSpawn,
		OpExpUpdate, OpRaidUpdate:
		logger.Debugf("zone phase: acknowledging opcode %#x, no state change", pkt.Opcode)
		return nil
	case OpWorldObjectsSent:
		return p.onWorldObjectsSent()
	case OpClientUpdate:
		return p.onClientUpdate(pkt.Payload)
	case OpDeleteSpawn:
		return p.onDeleteSpawn(pkt.Payload)
	case OpMobHealth:
		return p.onMobHealth(pkt.Payload)
	case OpHPUpdate:
		return p.onHPUpdate(pkt.Payload)
	case OpChannelMessage:
		return p.onChannelMessage(pkt.Payload)
	default:
		logger.Debugf("zone phase: ignoring opcode %#x", pkt.Opcode)
		return nil
	}
}

// Offsets within the (much larger, mostly-unused) PlayerProfile struct.
// Unlike ZoneSpawns and ClientUpdate, position here is four plain floats,
// not the bit-packed record. Everything else in the struct is
// skill/inventory/quest data this module has no use for.
const (
	playerProfileOffX       = 28
	playerProfileOffY       = 32
	playerProfileOffZ       = 36
	playerProfileOffHeading = 40
	playerProfileOffEntityID = 14384
)

func (p *ZonePhase) onPlayerProfile(payload []byte) error {
	r := wire.NewReader(payload)
	x, err := r.F32At(playerProfileOffX)
	if err != nil {
		return fmt.Errorf("%w: reading PlayerProfile x: %v", ErrProtocol, err)
	}
	y, err := r.F32At(playerProfileOffY)
	if err != nil {
		return fmt.Errorf("%w: reading PlayerProfile y: %v", ErrProtocol, err)
	}
	z, err := r.F32At(playerProfileOffZ)
	if err != nil {
		return fmt.Errorf("%w: reading PlayerProfile z: %v", ErrProtocol, err)
	}
	heading, err := r.F32At(playerProfileOffHeading)
	if err != nil {
		return fmt.Errorf("%w: reading PlayerProfile heading: %v", ErrProtocol, err)
	}
	spawnID, err := r.U32At(playerProfileOffEntityID)
	if err != nil {
		return fmt.Errorf("%w: reading PlayerProfile entity id: %v", ErrProtocol, err)
	}

	p.entities.InsertOrReplace(entity.Entity{
		SpawnID: spawnID, Name: p.charName,
		X: x, Y: y, Z: z, Heading: heading,
		HPPercent: 100,
	})
	p.engine.SetSpawnID(spawnID)
	p.engine.SetPosition(x, y, z, heading)

	p.flags.sessionEstablished = true
	return p.maybeSendReqNewZone()
}

// onZoneSpawns decodes the repeating 385-byte Spawn_Struct entries and
// inserts or replaces each in the entity model. Parsing stops at the first
// empty name, which marks the end of spawn data in the packet.
func (p *ZonePhase) onZoneSpawns(payload []byte) {
	r := wire.NewReader(payload)
	for off := zoneSpawnsHeader; off+spawnRecordSize <= len(payload); off += spawnRecordSize {
		name, err := r.FixedStringAt(off+spawnOffName, 64)
		if err != nil {
			return
		}
		if name == "" {
			return
		}

		pos, err := wire.DecodePosition(payload[off+spawnOffPosition : off+spawnOffPosition+20])
		if err != nil {
			return
		}
		spawnID, _ := r.U32At(off + spawnOffSpawnID)
		level, _ := r.U8At(off + spawnOffLevel)
		class, _ := r.U8At(off + spawnOffClass)
		race, _ := r.U32At(off + spawnOffRace)
		gender, _ := r.U8At(off + spawnOffGender)
		guildID, _ := r.U32At(off + spawnOffGuild)
		hpPct, _ := r.U8At(off + spawnOffHPPercent)

		p.entities.InsertOrReplace(entity.Entity{
			SpawnID: spawnID, Name: name,
			X: pos.X, Y: pos.Y, Z: pos.Z, Heading: pos.Heading,
			Animation: pos.Animation,
			Level:     level, ClassID: class, RaceID: race, Gender: gender,
			GuildID: guildID, HPPercent: hpPct,
		})
	}
}

// clientUpdateOffSpawnID/clientUpdateOffPosition are byte offsets within an
// incoming ClientUpdate payload: a 2-byte spawn id, then the same 20-byte
// bit-packed record §4.1 describes, unlike the outgoing ClientUpdate which
// also carries a sequence number between the two.
const (
	clientUpdateOffSpawnID  = 0
	clientUpdateOffPosition = 2
)

// onClientUpdate decodes another entity's position broadcast and feeds the
// result to the entity model. Unknown spawn ids are silently ignored by
// Model.UpdatePosition itself.
func (p *ZonePhase) onClientUpdate(payload []byte) error {
	r := wire.NewReader(payload)
	spawnID, err := r.U16At(clientUpdateOffSpawnID)
	if err != nil {
		return fmt.Errorf("%w: reading ClientUpdate spawn id: %v", ErrProtocol, err)
	}
	pos, err := wire.DecodePosition(payload[clientUpdateOffPosition:])
	if err != nil {
		return fmt.Errorf("%w: reading ClientUpdate position: %v", ErrProtocol, err)
	}

	p.entities.UpdatePosition(uint32(spawnID), entity.PositionUpdate{
		X: pos.X, Y: pos.Y, Z: pos.Z,
		Heading:      pos.Heading,
		DeltaX:       pos.DeltaX,
		DeltaY:       pos.DeltaY,
		DeltaZ:       pos.DeltaZ,
		DeltaHeading: pos.DeltaHeading,
		Animation:    pos.Animation,
	})
	return nil
}

const deleteSpawnOffSpawnID = 0

// onDeleteSpawn removes an entity on despawn.
func (p *ZonePhase) onDeleteSpawn(payload []byte) error {
	r := wire.NewReader(payload)
	spawnID, err := r.U16At(deleteSpawnOffSpawnID)
	if err != nil {
		return fmt.Errorf("%w: reading DeleteSpawn spawn id: %v", ErrProtocol, err)
	}
	p.entities.Remove(uint32(spawnID))
	return nil
}

const (
	mobHealthOffSpawnID   = 0
	mobHealthOffHPPercent = 2
)

// onMobHealth updates another entity's HP percent, or marks it dead once
// health reaches zero.
func (p *ZonePhase) onMobHealth(payload []byte) error {
	r := wire.NewReader(payload)
	spawnID, err := r.U16At(mobHealthOffSpawnID)
	if err != nil {
		return fmt.Errorf("%w: reading MobHealth spawn id: %v", ErrProtocol, err)
	}
	hpPercent, err := r.U8At(mobHealthOffHPPercent)
	if err != nil {
		return fmt.Errorf("%w: reading MobHealth hp percent: %v", ErrProtocol, err)
	}

	if hpPercent == 0 {
		p.entities.MarkDead(uint32(spawnID))
		return nil
	}
	p.entities.UpdateHPPercent(uint32(spawnID), hpPercent)
	return nil
}

// HPUpdate carries the player's own HP/mana; Titanium's copy of the packet
// has no max mana field, so UpdateMana is called with whatever max is
// already on record rather than clobbering it with zero.
const (
	hpUpdateOffCurHP   = 0
	hpUpdateOffMaxHP   = 4
	hpUpdateOffCurMana = 8
)

func (p *ZonePhase) onHPUpdate(payload []byte) error {
	r := wire.NewReader(payload)
	curHP, err := r.U32At(hpUpdateOffCurHP)
	if err != nil {
		return fmt.Errorf("%w: reading HPUpdate current hp: %v", ErrProtocol, err)
	}
	maxHP, err := r.U32At(hpUpdateOffMaxHP)
	if err != nil {
		return fmt.Errorf("%w: reading HPUpdate max hp: %v", ErrProtocol, err)
	}
	curMana, err := r.U16At(hpUpdateOffCurMana)
	if err != nil {
		return fmt.Errorf("%w: reading HPUpdate current mana: %v", ErrProtocol, err)
	}

	spawnID := p.engine.SpawnID()
	if spawnID == 0 {
		return nil
	}
	pct := uint8(100)
	if maxHP > 0 {
		pct = uint8(curHP * 100 / maxHP)
	}
	p.entities.UpdateHPPercent(spawnID, pct)
	if e, ok := p.entities.Get(spawnID); ok {
		p.entities.UpdateMana(spawnID, curMana, e.MaxMana)
	}
	return nil
}

// onChannelMessage decodes an incoming chat line and buffers it for the CLI
// dispatcher to print and relay to the chat bus on its next tick.
func (p *ZonePhase) onChannelMessage(payload []byte) error {
	msg, err := DecodeChannelMessage(payload)
	if err != nil {
		return err
	}
	p.incomingChat = append(p.incomingChat, msg)
	return nil
}

func (p *ZonePhase) onWeather() error {
	p.flags.weatherReceived = true
	return p.maybeSendReqNewZone()
}

// maybeSendReqNewZone implements the S1->S2 gate: ReqNewZone is sent once
// both the player profile and the weather packet have arrived.
func (p *ZonePhase) maybeSendReqNewZone() error {
	if !p.flags.sessionEstablished || !p.flags.weatherReceived || p.flags.reqNewZoneSent {
		return nil
	}
	if err := p.session.QueuePacket(session.Packet{Opcode: OpReqNewZone, Payload: nil}, 0, true); err != nil {
		return fmt.Errorf("sending ReqNewZone: %w", err)
	}
	p.flags.reqNewZoneSent = true
	return nil
}

// newZoneOffShortName is the byte offset of the zone's short name within
// the NewZone payload.
const newZoneOffShortName = 66

// onNewZone fires the four post-NewZone requests (AA table, update AA,
// tributes, guild tributes) in order. ReqClientSpawn follows once the
// three expected response counters have each gone positive;
// see maybeSendReqClientSpawn.
func (p *ZonePhase) onNewZone(payload []byte) error {
	p.flags.newZoneReceived = true

	if name, err := wire.NewReader(payload).FixedStringAt(newZoneOffShortName, 32); err == nil {
		p.zoneName = name
	}

	sends := []struct {
		op   uint16
		flag *bool
	}{
		{OpSendAATable, &p.flags.aaTableSent},
		{OpUpdateAA, &p.flags.updateAASent},
		{OpSendTributes, &p.flags.tributesSent},
		{OpRequestGuildTributes, &p.flags.guildTributesSent},
	}
	for _, s := range sends {
		if err := p.session.QueuePacket(session.Packet{Opcode: s.op, Payload: nil}, 0, true); err != nil {
			return fmt.Errorf("sending post-NewZone opcode %#x: %w", s.op, err)
		}
		*s.flag = true
	}

	return p.maybeSendReqClientSpawn()
}

// onAATableResponse counts a SendAATable response or its UpdateAA
// follow-up toward the AA-table gate.
func (p *ZonePhase) onAATableResponse() error {
	p.flags.aaTableRecv = true
	return p.maybeSendReqClientSpawn()
}

func (p *ZonePhase) onTributeInfo() error {
	p.flags.tributeInfoRecv = true
	return p.maybeSendReqClientSpawn()
}

func (p *ZonePhase) onSendGuildTributes() error {
	p.flags.guildTributesRecv = true
	return p.maybeSendReqClientSpawn()
}

// maybeSendReqClientSpawn implements the S2->S3 gate: once
// NewZone has been received and each of the three response counters
// (AA table, tribute info, guild tributes) has gone positive, request
// client spawn.
func (p *ZonePhase) maybeSendReqClientSpawn() error {
	if !p.flags.newZoneReceived || !p.flags.aaTableRecv || !p.flags.tributeInfoRecv ||
		!p.flags.guildTributesRecv || p.flags.reqClientSpawnSent {
		return nil
	}
	if err := p.session.QueuePacket(session.Packet{Opcode: OpReqClientSpawn, Payload: nil}, 0, true); err != nil {
		return fmt.Errorf("sending ReqClientSpawn: %w", err)
	}
	p.flags.reqClientSpawnSent = true
	return nil
}

// onWorldObjectsSent fires on the server's signal that static zone
// geometry and objects have been delivered; reply with SendExpZonein.
func (p *ZonePhase) onWorldObjectsSent() error {
	p.flags.worldObjectsSent = true
	if err := p.session.QueuePacket(session.Packet{Opcode: OpSendExpZonein, Payload: nil}, 0, true); err != nil {
		return fmt.Errorf("sending SendExpZonein: %w", err)
	}
	p.flags.expZoneinSent = true
	return nil
}

// serverFilterCount is the number of u32 filter slots in SetServerFilter;
// real clients set every one to 0xFFFFFFFF (show everything).
const serverFilterCount = 29

func buildServerFilter() []byte {
	w := wire.NewFixedWriter(118)
	for i := 0; i < serverFilterCount; i++ {
		w.PutU32At(i*4, 0xFFFFFFFF)
	}
	return w.Bytes()
}

// onSendExpZoneinEcho fires once the server echoes SendExpZonein back,
// confirming the client's copy was processed. That echo in turn triggers
// the server to send ExpUpdate, RaidUpdate, and finally GuildMOTD; bring-up
// doesn't complete until GuildMOTD arrives (see onGuildMOTD), so this only
// records the echo.
func (p *ZonePhase) onSendExpZoneinEcho() error {
	p.flags.sendExpZoneinReceived = true
	return nil
}

// onGuildMOTD fires on the last packet of the post-SendExpZonein sequence
// (ExpUpdate, RaidUpdate, GuildMOTD): reply with SetServerFilter then
// ClientReady, completing bring-up.
func (p *ZonePhase) onGuildMOTD() error {
	if !p.flags.expZoneinSent || p.flags.serverFilterSent {
		return nil
	}

	if err := p.session.QueuePacket(session.Packet{Opcode: OpSetServerFilter, Payload: buildServerFilter()}, 0, true); err != nil {
		return fmt.Errorf("sending SetServerFilter: %w", err)
	}
	p.flags.serverFilterSent = true

	if err := p.session.QueuePacket(session.Packet{Opcode: OpClientReady, Payload: nil}, 0, true); err != nil {
		return fmt.Errorf("sending ClientReady: %w", err)
	}
	p.flags.clientReadySent = true
	return nil
}
