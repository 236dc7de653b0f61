package command

import (
	"context"

	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/movement"
	"github.com/pixil98/hc/internal/protocol"
	"github.com/pixil98/hc/internal/statusview"
)

// statusPump is a driverloop.Pumpable that redraws the debug status pane
// once per tick; only registered when -d/--debug >= 2.
type statusPump struct {
	driver   *protocol.Driver
	engine   *movement.Engine
	entities *entity.Model
	view     *statusview.View
}

func newStatusPump(driver *protocol.Driver, engine *movement.Engine, entities *entity.Model, view *statusview.View) *statusPump {
	return &statusPump{driver: driver, engine: engine, entities: entities, view: view}
}

func (p *statusPump) Pump(ctx context.Context) error {
	x, y, z, heading := p.engine.Position()
	p.view.Update(statusview.Snapshot{
		Zone:        p.driver.ZoneName(),
		X:           x, Y: y, Z: z,
		Heading:     heading,
		ZonedIn:     p.driver.FullyZonedIn(),
		Moving:      p.engine.IsMoving(),
		State:       p.engine.State().String(),
		EntityCount: p.entities.Len(),
	})
	return nil
}
