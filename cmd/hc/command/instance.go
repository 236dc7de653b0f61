package command

import (
	"context"
	"fmt"
	"io"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/internal/chatbus"
	"github.com/pixil98/hc/internal/cli"
	"github.com/pixil98/hc/internal/driverloop"
	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/protocol"
	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/statusview"
)

// instance is one configured client: a driver loop over its own driver,
// movement engine, and CLI, satisfying service.Worker's Start(ctx) error
// shape.
type instance struct {
	cfg    InstanceConfig
	driver *protocol.Driver
	loop   *driverloop.Loop
	view   *statusview.View
}

func newInstance(cfg InstanceConfig, debugLevel int, noPathfinding bool, in io.Reader, out io.Writer) (*instance, error) {
	entities := entity.NewModel()
	engine := movement.NewEngine(nil, nil, entities)
	engine.SetPathfindingEnabled(!noPathfinding)

	pcfg := protocol.Config{
		Host: cfg.Host, Port: cfg.Port,
		User: cfg.User, Pass: cfg.Pass,
		Server: cfg.Server, Character: cfg.Character,
		NavmeshPath: cfg.NavmeshPath, MapsPath: cfg.MapsPath,
		DebugLevel: debugLevel,
	}
	driver := protocol.NewDriver(pcfg, entities, engine, dialUDP)

	var bus *chatbus.Publisher
	if cfg.ChatBus.Enabled {
		b, err := chatbus.Connect(cfg.ChatBus.URL, chatBusSubject(cfg))
		if err != nil {
			return nil, fmt.Errorf("connecting chat bus: %w", err)
		}
		bus = b
	}

	repl := cli.NewREPL()
	dispatcher := cli.New(repl, driver, engine, entities, out, bus)

	pumps := []driverloop.Pumpable{
		driver,
		protocol.NewMovementPump(driver, engine),
		dispatcher,
	}

	var view *statusview.View
	if debugLevel >= 2 {
		view = statusview.New()
		pumps = append(pumps, newStatusPump(driver, engine, entities, view))
	}

	inst := &instance{
		cfg:    cfg,
		driver: driver,
		loop:   driverloop.NewLoop(pumps),
		view:   view,
	}

	go repl.Start(context.Background(), in)

	return inst, nil
}

func chatBusSubject(cfg InstanceConfig) string {
	if cfg.ChatBus.Subject != "" {
		return cfg.ChatBus.Subject
	}
	return "hc.chat." + cfg.Character
}

// Start runs the instance until ctx is cancelled, the session fails, or
// the operator quits from the CLI.
func (i *instance) Start(ctx context.Context) error {
	ctx = log.SetLogger(ctx, log.NewLogger())
	logger := log.GetLogger(ctx)

	if i.view != nil {
		i.view.Start(ctx)
		defer i.view.Stop()
	}

	logger.Infof("starting instance for character %q on %s:%d", i.cfg.Character, i.cfg.Host, i.cfg.Port)

	if err := i.driver.Start(ctx); err != nil {
		return fmt.Errorf("starting driver: %w", err)
	}

	err := i.loop.Start(ctx)
	if err == cli.ErrQuit {
		logger.Info("quit requested from cli")
		return nil
	}
	return err
}

// dialUDP is the protocol.DialFunc used by every instance: a real
// net.UDPConn-backed session. Resolution failures are deferred to
// Connect, which the driver already surfaces as a wrapped ErrResolve,
// rather than failing here where DialFunc has no error return.
func dialUDP(host string, port int) session.Session {
	sess, err := session.NewUDPSession(host, uint16(port))
	if err != nil {
		return &failedDial{err: err}
	}
	return sess
}

type failedDial struct{ err error }

func (f *failedDial) Connect(ctx context.Context) error           { return f.err }
func (f *failedDial) Close() error                                { return nil }
func (f *failedDial) Status() session.Status                      { return session.Disconnected }
func (f *failedDial) QueuePacket(session.Packet, int, bool) error { return f.err }
func (f *failedDial) Poll() []session.Event                       { return nil }
