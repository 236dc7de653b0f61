package protocol

import (
	"context"
	"crypto/cipher"
	"crypto/des"
	"testing"

	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/wire"
)

// fakeSession is a minimal in-memory session.Session that lets the phase
// state machines be driven without a real socket.
type fakeSession struct {
	status      session.Status
	pendingEvts []session.Event
	sent        []session.Packet
}

func newFakeSession() *fakeSession {
	return &fakeSession{status: session.Connecting}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	from := f.status
	f.status = session.Connected
	f.pendingEvts = append(f.pendingEvts, session.Event{StatusChange: &session.StatusChange{From: from, To: session.Connected}})
	return nil
}

func (f *fakeSession) Close() error {
	f.status = session.Disconnected
	return nil
}

func (f *fakeSession) Status() session.Status { return f.status }

func (f *fakeSession) QueuePacket(pkt session.Packet, streamID int, reliable bool) error {
	f.sent = append(f.sent, pkt)
	return nil
}

func (f *fakeSession) Poll() []session.Event {
	out := f.pendingEvts
	f.pendingEvts = nil
	return out
}

func (f *fakeSession) deliver(pkt session.Packet) {
	f.pendingEvts = append(f.pendingEvts, session.Event{Packet: &pkt})
}

func (f *fakeSession) lastSent() session.Packet {
	if len(f.sent) == 0 {
		return session.Packet{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSession) sentOpcodes() []uint16 {
	out := make([]uint16, len(f.sent))
	for i, p := range f.sent {
		out[i] = p.Opcode
	}
	return out
}

// desZeroEncrypt mirrors wire.EncryptCredentials' cipher parameters
// (all-zero DES-CBC key/IV) to build a server->client encrypted payload
// for the test, since wire only exports the client->server direction.
func desZeroEncrypt(t *testing.T, plain []byte) []byte {
	t.Helper()
	block, err := des.NewCipher(make([]byte, des.BlockSize))
	if err != nil {
		t.Fatalf("building DES cipher: %v", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, des.BlockSize)).CryptBlocks(out, plain)
	return out
}

func buildLoginAccepted(t *testing.T, code uint8, dbid uint32, key string) []byte {
	t.Helper()
	plain := make([]byte, 32)
	plain[1] = code
	w := wire.NewWriter(0)
	w.PutU32(dbid)
	copy(plain[8:12], w.Bytes())
	copy(plain[12:], []byte(key))
	return desZeroEncrypt(t, plain)
}

func buildServerListResponse(t *testing.T, servers []WorldServerEntry) []byte {
	t.Helper()
	w := wire.NewWriter(64)
	w.PutU32At(18, uint32(len(servers)))
	off := 22
	for _, s := range servers {
		w.PutCStringAt(off, s.Address)
		off += len(s.Address) + 1
		w.PutU8At(off, s.Type)
		off++
		w.PutU32At(off, s.ID)
		off += 4
		w.PutCStringAt(off, s.LongName)
		off += len(s.LongName) + 1
		w.PutCStringAt(off, s.Lang)
		off += len(s.Lang) + 1
		w.PutCStringAt(off, s.Region)
		off += len(s.Region) + 1
		w.PutU32At(off, uint32(s.Status))
		off += 4
		w.PutU32At(off, s.Players)
		off += 4
	}
	return w.Bytes()
}

func TestLoginHandshakeHappyPath(t *testing.T) {
	sess := newFakeSession()
	cfg := Config{User: "alice", Pass: "secret", Server: "Test Server"}
	login := NewLoginPhase(sess, cfg)
	ctx := context.Background()

	if err := login.HandleEvent(ctx, session.Event{StatusChange: &session.StatusChange{From: session.Connecting, To: session.Connected}}); err != nil {
		t.Fatalf("connect event: %v", err)
	}
	if login.Stage() != LoginSentSessionReady {
		t.Fatalf("stage = %v, want LoginSentSessionReady", login.Stage())
	}

	sess.deliver(session.Packet{Opcode: OpChatMessage})
	for _, ev := range sess.Poll() {
		if err := login.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("chat message event: %v", err)
		}
	}
	if login.Stage() != LoginSentLogin {
		t.Fatalf("stage = %v, want LoginSentLogin", login.Stage())
	}

	accepted := buildLoginAccepted(t, 0, 4242, "sessionkey123")
	sess.deliver(session.Packet{Opcode: OpLoginAccepted, Payload: accepted})
	for _, ev := range sess.Poll() {
		if err := login.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("login accepted event: %v", err)
		}
	}
	if login.Stage() != LoginSentServerList {
		t.Fatalf("stage = %v, want LoginSentServerList", login.Stage())
	}
	if login.DBID() != 4242 {
		t.Fatalf("dbid = %d, want 4242", login.DBID())
	}

	listPayload := buildServerListResponse(t, []WorldServerEntry{
		{ID: 7, Address: "world.example.com:9000", LongName: "Other Server"},
		{ID: 9, Address: "world2.example.com:9000", LongName: "Test Server"},
	})
	sess.deliver(session.Packet{Opcode: OpServerListResponse, Payload: listPayload})
	for _, ev := range sess.Poll() {
		if err := login.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("server list event: %v", err)
		}
	}
	if login.Stage() != LoginSentPlayRequest {
		t.Fatalf("stage = %v, want LoginSentPlayRequest", login.Stage())
	}
	if login.ChosenServer().ID != 9 {
		t.Fatalf("chosen server id = %d, want 9", login.ChosenServer().ID)
	}

	playResp := wire.NewWriter(1)
	playResp.PutU8(1)
	sess.deliver(session.Packet{Opcode: OpPlayEverquestResponse, Payload: playResp.Bytes()})
	for _, ev := range sess.Poll() {
		if err := login.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("play response event: %v", err)
		}
	}
	if login.Stage() != LoginHandedOffToWorld {
		t.Fatalf("stage = %v, want LoginHandedOffToWorld", login.Stage())
	}
}

func TestLoginHandshakeAuthFailure(t *testing.T) {
	sess := newFakeSession()
	login := NewLoginPhase(sess, Config{User: "alice", Pass: "wrong"})
	ctx := context.Background()

	sess.deliver(session.Packet{Opcode: OpChatMessage})
	for _, ev := range sess.Poll() {
		login.HandleEvent(ctx, ev)
	}

	rejected := buildLoginAccepted(t, 200, 0, "")
	sess.deliver(session.Packet{Opcode: OpLoginAccepted, Payload: rejected})
	var gotErr error
	for _, ev := range sess.Poll() {
		if err := login.HandleEvent(ctx, ev); err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("expected an auth error, got nil")
	}
	if login.Stage() != LoginFailed {
		t.Fatalf("stage = %v, want LoginFailed", login.Stage())
	}
}

// buildPlayerProfile lays out just the fields ZonePhase reads from a
// PlayerProfile payload: four plain-float position fields and a u32
// entity id, at the offsets original_source/hc/eq.cpp's
// ZoneProcessPlayerProfile reads them from (minus its 2-byte opcode
// prefix, since payload here excludes the opcode).
func buildPlayerProfile(x, y, z, heading float32, spawnID uint32) []byte {
	w := wire.NewFixedWriter(playerProfileOffEntityID + 4)
	w.PutF32At(playerProfileOffX, x)
	w.PutF32At(playerProfileOffY, y)
	w.PutF32At(playerProfileOffZ, z)
	w.PutF32At(playerProfileOffHeading, heading)
	w.PutU32At(playerProfileOffEntityID, spawnID)
	return w.Bytes()
}

// TestZoneBringUpOrdering covers the five-stage zone bring-up handshake:
// ReqNewZone, then the four post-NewZone requests, then (once all three
// response counters have arrived) ReqClientSpawn, then SendExpZonein,
// then (once GuildMOTD arrives) SetServerFilter, then ClientReady, in that
// exact order, ending with FullyZonedIn() true.
func TestZoneBringUpOrdering(t *testing.T) {
	sess := newFakeSession()
	entities := entity.NewModel()
	engine := movement.NewEngine(nil, nil, entities)
	zone := NewZonePhase(sess, Config{}, entities, engine, "Test Toon")
	ctx := context.Background()

	if err := zone.HandleEvent(ctx, session.Event{StatusChange: &session.StatusChange{To: session.Connected}}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	profile := buildPlayerProfile(10, 20, 5, 0, 555)
	sess.deliver(session.Packet{Opcode: OpPlayerProfile, Payload: profile})
	drain(t, ctx, sess, zone)

	sess.deliver(session.Packet{Opcode: OpWeather})
	drain(t, ctx, sess, zone)

	opcodes := sess.sentOpcodes()
	if len(opcodes) == 0 || opcodes[len(opcodes)-1] != OpReqNewZone {
		t.Fatalf("expected ReqNewZone to be sent after weather, got %v", opcodes)
	}

	sess.deliver(session.Packet{Opcode: OpNewZone})
	drain(t, ctx, sess, zone)

	opcodes = sess.sentOpcodes()
	wantTail := []uint16{OpReqNewZone, OpSendAATable, OpUpdateAA, OpSendTributes, OpRequestGuildTributes}
	if len(opcodes) < len(wantTail) {
		t.Fatalf("opcodes after NewZone = %v, want a tail of %v", opcodes, wantTail)
	}
	gotTail := opcodes[len(opcodes)-len(wantTail):]
	for i, op := range wantTail {
		if gotTail[i] != op {
			t.Fatalf("opcode[%d] = %#x, want %#x (tail %v)", i, gotTail[i], op, gotTail)
		}
	}
	if zone.FullyZonedIn() {
		t.Fatal("should not be fully zoned in before ReqClientSpawn has even been sent")
	}

	// ReqClientSpawn waits on three response counters; deliver them out of
	// the order they were requested in to show the gate doesn't care.
	sess.deliver(session.Packet{Opcode: OpTributeInfo})
	drain(t, ctx, sess, zone)
	sess.deliver(session.Packet{Opcode: OpSendGuildTributes})
	drain(t, ctx, sess, zone)
	if sess.sentOpcodes()[len(sess.sentOpcodes())-1] == OpReqClientSpawn {
		t.Fatal("ReqClientSpawn sent before the AA table response arrived")
	}
	sess.deliver(session.Packet{Opcode: OpSendAATable})
	drain(t, ctx, sess, zone)

	opcodes = sess.sentOpcodes()
	if opcodes[len(opcodes)-1] != OpReqClientSpawn {
		t.Fatalf("expected ReqClientSpawn once all three response counters arrived, got %v", opcodes)
	}

	sess.deliver(session.Packet{Opcode: OpWorldObjectsSent})
	drain(t, ctx, sess, zone)
	opcodes = sess.sentOpcodes()
	if opcodes[len(opcodes)-1] != OpSendExpZonein {
		t.Fatalf("expected SendExpZonein after WorldObjectsSent, got %v", opcodes)
	}
	if zone.FullyZonedIn() {
		t.Fatal("should not be fully zoned in before the SendExpZonein echo")
	}

	sess.deliver(session.Packet{Opcode: OpSendExpZonein})
	drain(t, ctx, sess, zone)
	sess.deliver(session.Packet{Opcode: OpGuildMOTD})
	drain(t, ctx, sess, zone)
	opcodes = sess.sentOpcodes()
	last2 := opcodes[len(opcodes)-2:]
	if last2[0] != OpSetServerFilter || last2[1] != OpClientReady {
		t.Fatalf("expected SetServerFilter then ClientReady, got tail %v", last2)
	}

	if !zone.FullyZonedIn() {
		t.Fatal("expected FullyZonedIn() to be true after ClientReady")
	}

	if engine.SpawnID() != 555 {
		t.Fatalf("engine spawn id = %d, want 555", engine.SpawnID())
	}
}

func drain(t *testing.T, ctx context.Context, sess *fakeSession, zone *ZonePhase) {
	t.Helper()
	for _, ev := range sess.Poll() {
		if err := zone.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("zone event: %v", err)
		}
	}
}
