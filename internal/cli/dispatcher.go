package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pixil98/hc/internal/chatbus"
	"github.com/pixil98/hc/internal/display"
	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/protocol"
)

// pendingMove tracks a blocking movement command between ticks: Dispatcher
// holds at most one, and won't dequeue the next command from the REPL
// until the engine reports it's no longer moving. This is the
// condition-variable-on-is_moving redesign in channel/poll form: no
// goroutine actually blocks, the single driver-loop goroutine just defers
// dequeuing, which gets the same "command thread blocked on movement"
// observable behavior without a second mutator goroutine.
type pendingMove struct {
	cmd Command
}

// Dispatcher is the command-thread executor: Pump, called once per driver
// loop tick, dequeues and synchronously executes at most one command from
// repl, deferring the next dequeue while a movement command is still in
// flight.
type Dispatcher struct {
	repl     *REPL
	driver   *protocol.Driver
	engine   *movement.Engine
	entities *entity.Model
	out      io.Writer
	bus      *chatbus.Publisher

	pending *pendingMove
}

// New builds a Dispatcher. bus may be nil (chat bus disabled).
func New(repl *REPL, driver *protocol.Driver, engine *movement.Engine, entities *entity.Model, out io.Writer, bus *chatbus.Publisher) *Dispatcher {
	return &Dispatcher{repl: repl, driver: driver, engine: engine, entities: entities, out: out, bus: bus}
}

// Pump services the command queue. Returns ErrQuit when the operator asks
// to quit and nil otherwise: every other command error (a ReplError,
// ErrNotInZone, or a failed send) is printed here, not propagated.
func (d *Dispatcher) Pump(ctx context.Context) error {
	d.relayIncomingChat()

	if d.pending != nil {
		if d.engine.IsMoving() {
			return nil
		}
		d.pending = nil
	}

	cmd, ok := d.repl.Dequeue()
	if !ok {
		return nil
	}

	blocking, err := d.execute(ctx, cmd)
	if err != nil {
		if err == ErrQuit {
			return ErrQuit
		}
		fmt.Fprintln(d.out, err)
		return nil
	}
	if blocking {
		d.pending = &pendingMove{cmd: cmd}
	}
	return nil
}

// execute runs one command and reports whether it started a blocking
// movement (the caller must not dequeue the next command until it
// completes).
func (d *Dispatcher) execute(ctx context.Context, cmd Command) (bool, error) {
	fields := strings.Fields(cmd.Line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "say":
		return false, d.chat(protocol.ChanSay, "", args)
	case "tell":
		return false, d.tell(args)
	case "shout":
		return false, d.chat(protocol.ChanShout, "", args)
	case "ooc":
		return false, d.chat(protocol.ChanOOC, "", args)
	case "auction":
		return false, d.chat(protocol.ChanAuction, "", args)
	case "emote":
		return false, d.chat(protocol.ChanEmote, "", args)

	case "move":
		return d.move(args)
	case "moveto":
		return d.moveto(args)
	case "follow":
		return d.follow(args)
	case "stopfollow":
		d.engine.StopFollow()
		return false, nil

	case "face":
		return false, d.face(args)
	case "turn":
		return false, d.turn(args)

	case "loc":
		return false, d.loc()
	case "list":
		return false, d.list(args)

	case "walk":
		d.engine.SetSpeedMode(movement.Walk)
		return false, nil
	case "run":
		d.engine.SetSpeedMode(movement.Run)
		return false, nil

	case "pathfinding":
		return false, d.pathfinding(args)
	case "debug":
		return false, d.debug(args)

	case "quit", "exit":
		return false, ErrQuit

	default:
		return false, newReplError(fmt.Sprintf("unknown command: %s", name))
	}
}

// relayIncomingChat prints and rebroadcasts every chat message the zone
// session has received since the last tick.
func (d *Dispatcher) relayIncomingChat() {
	for _, msg := range d.driver.DrainIncomingChat() {
		fmt.Fprintln(d.out, display.Wrap(fmt.Sprintf("%s: %s", msg.From, msg.Text)))
		if d.bus != nil {
			_ = d.bus.Publish(chatbus.Line{Direction: "incoming", Channel: msg.Channel, From: msg.From, Text: msg.Text})
		}
	}
}

func (d *Dispatcher) requireZoned() error {
	if !d.driver.FullyZonedIn() {
		return protocol.ErrNotInZone
	}
	return nil
}

func (d *Dispatcher) chat(channel uint32, target string, words []string) error {
	if err := d.requireZoned(); err != nil {
		return err
	}
	if len(words) == 0 {
		return newReplError("nothing to say")
	}
	text := strings.Join(words, " ")
	if err := protocol.SendChannelMessage(d.driver.ZoneSession(), target, channel, text); err != nil {
		return err
	}
	if d.bus != nil {
		_ = d.bus.Publish(chatbus.Line{Direction: "outgoing", Channel: channel, Text: text})
	}
	fmt.Fprintln(d.out, display.Wrap(text))
	return nil
}

func (d *Dispatcher) tell(args []string) error {
	if len(args) < 2 {
		return newReplError("usage: tell <name> <message>")
	}
	return d.chat(protocol.ChanTell, args[0], args[1:])
}

func (d *Dispatcher) move(args []string) (bool, error) {
	if err := d.requireZoned(); err != nil {
		return false, err
	}
	x, y, z, err := parseXYZ(args)
	if err != nil {
		return false, err
	}
	d.engine.Move(x, y, z)
	return true, nil
}

func (d *Dispatcher) moveto(args []string) (bool, error) {
	if err := d.requireZoned(); err != nil {
		return false, err
	}
	if len(args) != 1 {
		return false, newReplError("usage: moveto <name>")
	}
	if _, ok := d.engine.MoveToEntity(args[0]); !ok {
		return false, newReplError(fmt.Sprintf("no entity matching %q", args[0]))
	}
	return true, nil
}

func (d *Dispatcher) follow(args []string) (bool, error) {
	if err := d.requireZoned(); err != nil {
		return false, err
	}
	if len(args) != 1 {
		return false, newReplError("usage: follow <name>")
	}
	if _, ok := d.engine.Follow(args[0]); !ok {
		return false, newReplError(fmt.Sprintf("no entity matching %q", args[0]))
	}
	return true, nil
}

func (d *Dispatcher) face(args []string) error {
	if err := d.requireZoned(); err != nil {
		return err
	}
	if len(args) == 1 {
		if _, ok := d.engine.FaceEntity(args[0]); !ok {
			return newReplError(fmt.Sprintf("no entity matching %q", args[0]))
		}
		return nil
	}
	x, y, z, err := parseXYZ(args)
	if err != nil {
		return err
	}
	d.engine.Face(x, y, z)
	return nil
}

func (d *Dispatcher) turn(args []string) error {
	if err := d.requireZoned(); err != nil {
		return err
	}
	if len(args) != 1 {
		return newReplError("usage: turn <degrees>")
	}
	degrees, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return newReplError(fmt.Sprintf("invalid degrees %q", args[0]))
	}
	d.engine.Turn(float32(degrees))
	return nil
}

func (d *Dispatcher) loc() error {
	if err := d.requireZoned(); err != nil {
		return err
	}
	x, y, z, heading := d.engine.Position()
	out, err := renderLoc(LocView{
		Zone:    d.driver.ZoneName(),
		X:       x, Y: y, Z: z,
		Heading: heading,
		State:   d.engine.State().String(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(d.out, out)
	return nil
}

func (d *Dispatcher) list(args []string) error {
	if err := d.requireZoned(); err != nil {
		return err
	}
	query := ""
	if len(args) > 0 {
		query = strings.ToLower(strings.Join(args, " "))
	}
	x, y, z, _ := d.engine.Position()
	near := d.entities.EnumerateNear([3]float32{x, y, z}, func(e entity.Entity) bool {
		if query == "" {
			return true
		}
		return strings.Contains(strings.ToLower(e.Name), query)
	})
	out, err := renderList(ListView{Count: len(near), Rows: entityRows(near)})
	if err != nil {
		return err
	}
	fmt.Fprintln(d.out, out)
	return nil
}

func (d *Dispatcher) pathfinding(args []string) error {
	if len(args) != 1 {
		return newReplError("usage: pathfinding on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		d.engine.SetPathfindingEnabled(true)
	case "off":
		d.engine.SetPathfindingEnabled(false)
	default:
		return newReplError("usage: pathfinding on|off")
	}
	return nil
}

func (d *Dispatcher) debug(args []string) error {
	if len(args) != 1 {
		return newReplError("usage: debug <0-3>")
	}
	level, err := strconv.Atoi(args[0])
	if err != nil || level < 0 || level > 3 {
		return newReplError("debug level must be 0-3")
	}
	d.driver.SetDebugLevel(level)
	return nil
}

func parseXYZ(args []string) (float32, float32, float32, error) {
	if len(args) != 3 {
		return 0, 0, 0, newReplError("expected 3 coordinates")
	}
	vals := make([]float64, 3)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return 0, 0, 0, newReplError(fmt.Sprintf("invalid coordinate %q", a))
		}
		vals[i] = v
	}
	return float32(vals[0]), float32(vals[1]), float32(vals[2]), nil
}
