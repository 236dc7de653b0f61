package protocol

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/pathfind"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/terrainmap"
	"github.com/pixil98/hc/internal/wire"
)

// DialFunc opens a new, not-yet-connected session to host:port. Injected
// so tests can substitute an in-memory session instead of a real
// session.UDPSession.
type DialFunc func(host string, port int) session.Session

// Driver wires the login, world, and zone phases together and is itself a
// driverloop.Pumpable (duck-typed: Pump(ctx) error). It owns the handoff
// between phases, happening automatically once each phase reaches its
// terminal stage.
type Driver struct {
	cfg      Config
	entities *entity.Model
	engine   *movement.Engine
	dial     DialFunc

	login     *LoginPhase
	loginSess session.Session

	world     *WorldPhase
	worldSess session.Session

	zone     *ZonePhase
	zoneSess session.Session

	loadedZone string
}

func NewDriver(cfg Config, entities *entity.Model, engine *movement.Engine, dial DialFunc) *Driver {
	return &Driver{cfg: cfg, entities: entities, engine: engine, dial: dial}
}

// Start dials the login server and begins the handshake.
func (d *Driver) Start(ctx context.Context) error {
	d.loginSess = d.dial(d.cfg.Host, d.cfg.Port)
	d.login = NewLoginPhase(d.loginSess, d.cfg)
	if err := d.loginSess.Connect(ctx); err != nil {
		return fmt.Errorf("%w: dialing login server: %v", ErrResolve, err)
	}
	return nil
}

// FullyZonedIn reports whether the zone bring-up sequence has completed;
// the movement pump uses this as its readiness gate.
func (d *Driver) FullyZonedIn() bool { return d.zone != nil && d.zone.FullyZonedIn() }

// ZoneSession exposes the live zone session so the movement pump and CLI
// dispatcher (chat commands) can queue packets directly.
func (d *Driver) ZoneSession() session.Session { return d.zoneSess }

// Entities exposes the shared world model for the CLI and status view.
func (d *Driver) Entities() *entity.Model { return d.entities }

// DrainIncomingChat returns every chat message received since the last
// call, or nil before the zone phase exists.
func (d *Driver) DrainIncomingChat() []ChannelMessage {
	if d.zone == nil {
		return nil
	}
	return d.zone.DrainIncomingChat()
}

// ZoneName reports the current zone's short name, empty until the zone
// bring-up handshake has received NewZone.
func (d *Driver) ZoneName() string {
	if d.zone == nil {
		return ""
	}
	return d.zone.ZoneName()
}

// SetDebugLevel changes the verbosity used by traceIfEnabled for every
// subsequent pump, letting the CLI's `debug` command take effect without
// reconnecting: 0=off, 1=state transitions (handled by each phase's own
// logging), 2=+opcode trace, 3=+hex payload dump.
func (d *Driver) SetDebugLevel(level int) { d.cfg.DebugLevel = level }

// traceIfEnabled logs each polled packet at the configured debug level,
// before it's handed to the phase state machine: level 2 traces the
// opcode, level 3 additionally hex-dumps the payload. This is deliberately
// a direct slog call rather than the context logger: a leaf-level trace
// point, not part of the driver's own narrative logging.
func (d *Driver) traceIfEnabled(label string, events []session.Event) {
	if d.cfg.DebugLevel < 2 {
		return
	}
	for _, ev := range events {
		if ev.Packet == nil {
			continue
		}
		slog.Debug("packet recv", "session", label, "opcode", fmt.Sprintf("%#x", ev.Packet.Opcode), "len", len(ev.Packet.Payload))
		if d.cfg.DebugLevel >= 3 {
			slog.Debug("packet payload", "session", label, "opcode", fmt.Sprintf("%#x", ev.Packet.Opcode), "hex", hex.EncodeToString(ev.Packet.Payload))
		}
	}
}

// Pump drains every live session once and advances phase handoffs. It is
// the network half of the single-threaded driver loop; the movement half
// is MovementPump.
func (d *Driver) Pump(ctx context.Context) error {
	if err := d.pumpLogin(ctx); err != nil {
		return err
	}
	if err := d.pumpWorld(ctx); err != nil {
		return err
	}
	return d.pumpZone(ctx)
}

func (d *Driver) pumpLogin(ctx context.Context) error {
	if d.loginSess == nil {
		return nil
	}
	events := d.loginSess.Poll()
	d.traceIfEnabled("login", events)
	for _, ev := range events {
		if err := d.login.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	if d.login.Stage() != LoginHandedOffToWorld || d.worldSess != nil {
		return nil
	}

	d.login.DisableReconnect()
	host, port, err := splitHostPort(d.login.ChosenServer().Address)
	if err != nil {
		return fmt.Errorf("%w: parsing chosen world server address: %v", ErrResolve, err)
	}
	d.worldSess = d.dial(host, port)
	d.world = NewWorldPhase(d.worldSess, d.cfg, d.login.DBID(), d.login.Key())
	if err := d.worldSess.Connect(ctx); err != nil {
		return fmt.Errorf("%w: dialing world server: %v", ErrResolve, err)
	}
	return nil
}

func (d *Driver) pumpWorld(ctx context.Context) error {
	if d.worldSess == nil {
		return nil
	}
	events := d.worldSess.Poll()
	d.traceIfEnabled("world", events)
	for _, ev := range events {
		if err := d.world.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	if d.world.Stage() != WorldHandedOffToZone || d.zoneSess != nil {
		return nil
	}

	zhost, zport := d.world.ZoneAddress()
	d.zoneSess = d.dial(zhost, int(zport))
	d.zone = NewZonePhase(d.zoneSess, d.cfg, d.entities, d.engine, d.cfg.Character)
	if err := d.zoneSess.Connect(ctx); err != nil {
		return fmt.Errorf("%w: dialing zone server: %v", ErrResolve, err)
	}
	return nil
}

func (d *Driver) pumpZone(ctx context.Context) error {
	if d.zoneSess == nil {
		return nil
	}
	events := d.zoneSess.Poll()
	d.traceIfEnabled("zone", events)
	for _, ev := range events {
		if err := d.zone.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}

	if zoneName := d.zone.ZoneName(); zoneName != "" && zoneName != d.loadedZone {
		d.loadedZone = zoneName
		d.loadZoneAssets(ctx, zoneName)
	}
	return nil
}

// loadZoneAssets swaps in the navmesh and terrain map for zoneName. Either
// is allowed to be absent: a missing navmesh falls back to the null
// straight-line finder, a missing terrain map simply disables the terrain
// Z fix.
func (d *Driver) loadZoneAssets(ctx context.Context, zoneName string) {
	logger := log.GetLogger(ctx)

	finder, isNavMesh, err := pathfind.Select(d.cfg.NavmeshPath, zoneName)
	if err != nil {
		logger.WithError(err).Warnf("loading navmesh for zone %q, falling back to null finder", zoneName)
	}
	d.engine.SetPathfinder(finder)
	logger.Debugf("zone %q: navmesh backed finder = %v", zoneName, isNavMesh)

	tm, err := loadTerrainMap(d.cfg.MapsPath, zoneName)
	if err != nil {
		logger.WithError(err).Warnf("loading terrain map for zone %q, terrain Z fix disabled", zoneName)
		tm = nil
	}
	d.engine.SetTerrain(tm)
}

func loadTerrainMap(root, zone string) (*terrainmap.Map, error) {
	if root == "" {
		return nil, nil
	}
	path := filepath.Join(root, zone+".map")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return terrainmap.Load(data)
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("non-numeric port %q: %w", portStr, err)
	}
	return host, port, nil
}

// MovementPump ticks the movement engine and forwards any resulting
// position update to the zone session as a ClientUpdate packet. It is a
// separate Pumpable from Driver so a driverloop.Loop can order "drain
// network" before "advance simulation" each tick.
type MovementPump struct {
	driver *Driver
	engine *movement.Engine
	last   time.Time
}

func NewMovementPump(driver *Driver, engine *movement.Engine) *MovementPump {
	return &MovementPump{driver: driver, engine: engine, last: time.Now()}
}

func (m *MovementPump) Pump(ctx context.Context) error {
	now := time.Now()
	dt := now.Sub(m.last)
	m.last = now

	if !m.driver.FullyZonedIn() {
		return nil
	}

	result := m.engine.Tick(dt)
	if result.PositionUpdate == nil {
		return nil
	}
	spawnID := m.engine.SpawnID()
	if spawnID == 0 {
		// spawn id 0 would be read by the server as a broadcast.
		return nil
	}

	payload := wire.EncodeClientUpdatePayload(uint16(spawnID), m.engine.Sequence(), *result.PositionUpdate, true)
	if err := m.driver.ZoneSession().QueuePacket(session.Packet{Opcode: OpClientUpdate, Payload: payload}, 1, false); err != nil {
		return fmt.Errorf("sending ClientUpdate: %w", err)
	}
	return nil
}
