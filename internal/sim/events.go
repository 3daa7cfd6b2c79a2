package sim

import "math/rand"

// Event is a transient driving condition layered over the trajectory:
// traffic and signals squeeze speed, weather and terrain tax consumption.
// Effects apply every tick while the event is active.
type Event struct {
	Name             string
	Ticks            int
	SpeedFactor      float64 // multiplies speed, 1 = neutral
	SpeedDelta       float64 // km/h added after the factor, 0 = neutral
	ConsumptionScale float64 // multiplies consumption, 1 = neutral
}

// baseEvents can occur in any driving mode.
var baseEvents = []Event{
	{Name: "dense_traffic", Ticks: 50, SpeedFactor: 0.95, ConsumptionScale: 1},
	{Name: "clear_road", Ticks: 40, SpeedFactor: 1.05, ConsumptionScale: 1},
	{Name: "rain", Ticks: 60, SpeedFactor: 1, ConsumptionScale: 1.1},
	{Name: "crosswind", Ticks: 30, SpeedFactor: 1, ConsumptionScale: 1.15},
	{Name: "incline", Ticks: 25, SpeedFactor: 1, ConsumptionScale: 1.25},
}

// modeEvents extend the pool per mode, which also weights the shared
// entries: city runs see denser traffic, highway runs longer clear
// stretches.
var modeEvents = map[string][]Event{
	"city": {
		{Name: "dense_traffic", Ticks: 50, SpeedFactor: 0.95, ConsumptionScale: 1},
		{Name: "red_light", Ticks: 15, SpeedFactor: 1, SpeedDelta: -5, ConsumptionScale: 1},
	},
	"highway": {
		{Name: "toll_gate", Ticks: 10, SpeedFactor: 1, SpeedDelta: -10, ConsumptionScale: 1},
		{Name: "clear_road", Ticks: 70, SpeedFactor: 1.05, ConsumptionScale: 1},
	},
}

// eventEngine rolls for and tracks the active event. It draws from its
// own seeded source so enabling events never disturbs the target-jitter
// sequence of the main simulator rng.
type eventEngine struct {
	rng         *rand.Rand
	probability float64

	active    Event
	remaining int
}

func newEventEngine(rng *rand.Rand, probability float64) *eventEngine {
	return &eventEngine{rng: rng, probability: probability}
}

// reset clears any active event, for session restarts.
func (e *eventEngine) reset() {
	e.active = Event{}
	e.remaining = 0
}

// tick returns the event in effect for this tick, rolling for a new one
// when none is active. The second return is false on event-free ticks.
func (e *eventEngine) tick(modeID string) (Event, bool) {
	if e.remaining == 0 {
		if e.rng.Float64() >= e.probability {
			return Event{}, false
		}
		pool := make([]Event, 0, len(baseEvents)+2)
		pool = append(pool, baseEvents...)
		pool = append(pool, modeEvents[modeID]...)
		e.active = pool[e.rng.Intn(len(pool))]
		e.remaining = e.active.Ticks
	}
	e.remaining--
	return e.active, true
}
