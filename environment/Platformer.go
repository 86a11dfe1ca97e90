// Package environment implements simulated games which the agent can
// play without a browser.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/transport"
)

const (
	// GridSize is the number of cells along each side of the state grid
	GridSize = 10

	ground      = GridSize - 2 // Row the player runs on
	playerX     = 2            // Column the player starts in
	speedUpTime = 100          // Steps between platform speed increases
	speedUp     = 0.2
	minGap      = 4 // Range of steps between obstacles at unit speed
	maxGap      = 9
)

// obstacle kinds, in order of appearance as the game speeds up
var kinds = []kind{
	{name: "cactus", speed: 1, height: 0, score: 1},
	{name: "flamingo", speed: 1.3, height: 0, score: 1},
	{name: "crab", speed: 0.8, height: 0, score: 1},
	{name: "bird", speed: 2, height: 2, score: 2},
	{name: "eagle", speed: 4, height: 3, score: 3},
	{name: "zebra", speed: 3, height: 0, score: 3},
	{name: "lizard", speed: 5, height: 0, score: 0},
}

type kind struct {
	name   string
	speed  float64 // Multiple of the platform speed
	height int     // Rows above the ground
	score  int     // Points for passing
}

type obstacle struct {
	kind
	x      float64
	passed bool
}

// cell returns the grid value of the obstacle
func (o obstacle) cell() float64 {
	return math.Floor(o.speed) + 1
}

// jump is the player's height above the ground on consecutive steps
// of a jump
var jump = []int{1, 2, 3, 3, 2, 1}

// phase is the phase of the game
type phase int

const (
	before phase = iota
	during
	after
)

// Platformer is an in-process side-scrolling platform game in the
// style of an endless runner, played through the transport.Transport
// interface with the same wire messages as the browser game.
//
// The state is a GridSize x GridSize grid indexed [column][row] holding
// 1 in the player's cell and floor(speed)+1 in an obstacle's cell.
// Passing an obstacle scores points and the reward of a step is the
// change in score. The episode is done once the player collides with an
// obstacle.
type Platformer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	phase   phase
	closed  bool
	pending []byte // Encoded response to the last message

	speed     float64 // Platform speed in cells per step
	clock     int
	nextSpawn int
	score     int
	lastScore int

	x         int // Player column
	height    int // Player rows above the ground
	jumpStep  int // Index into jump, -1 when on the ground
	obstacles []obstacle
}

// NewPlatformer returns a new Platformer seeded with seed. The game
// starts once a Reset or Start command is sent.
func NewPlatformer(seed uint64) *Platformer {
	return &Platformer{
		rng:      rand.New(rand.NewSource(seed)),
		speed:    1,
		x:        playerX,
		jumpStep: -1,
	}
}

// StateShape returns the shape of the Platformer's state
func (p *Platformer) StateShape() []int {
	return []int{GridSize, GridSize}
}

// Score returns the current score
func (p *Platformer) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// Send implements the transport.Transport interface. The message makes
// the round trip through the wire encoding.
func (p *Platformer) Send(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "send", Err: err}
	}

	data, err := transport.Encode(m)
	if err != nil {
		return err
	}
	m, err = transport.DecodeMessage(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &transport.Error{Op: "send", Err: transport.ErrClosed}
	}

	if m.IsControl() {
		if m.Control == action.Reset || p.phase != during {
			p.reset()
		}
		p.pending, err = p.encode(false)
	} else {
		if p.phase == during {
			p.step(m.Action)
		}
		p.pending, err = p.encode(true)
	}
	return err
}

// Receive implements the transport.Transport interface. Receive
// returns transport.ErrTimeout if no message was sent since the last
// response.
func (p *Platformer) Receive(ctx context.Context) (transport.Observation,
	error) {
	if err := ctx.Err(); err != nil {
		return transport.Observation{}, &transport.Error{Op: "receive",
			Err: err}
	}

	p.mu.Lock()
	data := p.pending
	p.pending = nil
	closed := p.closed
	p.mu.Unlock()

	switch {
	case closed:
		return transport.Observation{}, &transport.Error{Op: "receive",
			Err: transport.ErrClosed}
	case data == nil:
		return transport.Observation{}, &transport.Error{Op: "receive",
			Err: transport.ErrTimeout}
	}
	return transport.Decode(data)
}

// Close implements the transport.Transport interface
func (p *Platformer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Platformer) reset() {
	p.phase = during
	p.speed = 1
	p.clock = 0
	p.score = 0
	p.lastScore = 0
	p.x = playerX
	p.height = 0
	p.jumpStep = -1
	p.obstacles = p.obstacles[:0]
	p.nextSpawn = p.gap()
}

// gap returns the number of steps until the next obstacle appears.
// Obstacles appear more often as the platform speeds up.
func (p *Platformer) gap() int {
	lo := int(math.Ceil(minGap / p.speed))
	hi := int(math.Ceil(maxGap / p.speed))
	return lo + p.rng.Intn(hi-lo+1)
}

// step advances the game by a single step
func (p *Platformer) step(a action.Action) {
	switch a {
	case action.Left:
		p.x = max(p.x-1, 0)
	case action.Right:
		p.x = min(p.x+1, GridSize-1)
	case action.Jump:
		if p.jumpStep < 0 {
			p.jumpStep = 0
		}
	}

	p.height = 0
	if p.jumpStep >= 0 {
		p.height = jump[p.jumpStep]
		p.jumpStep++
		if p.jumpStep == len(jump) {
			p.jumpStep = -1
		}
	}

	// Obstacles scroll left, colliding with the player if they enter or
	// sweep through the player's cell
	px := float64(p.x)
	kept := p.obstacles[:0]
	for _, o := range p.obstacles {
		prev := math.Floor(o.x)
		o.x -= o.speed * p.speed
		cur := math.Floor(o.x)
		if !o.passed && cur <= px && px <= prev && o.height == p.height {
			p.phase = after
		}
		if !o.passed && cur < px && p.phase == during {
			o.passed = true
			p.score += o.kind.score
		}
		if o.x >= -1 {
			kept = append(kept, o)
		}
	}
	p.obstacles = kept

	p.clock++
	if p.clock%speedUpTime == 0 {
		p.speed += speedUp
	}

	p.nextSpawn--
	if p.nextSpawn <= 0 {
		p.spawn()
		p.nextSpawn = p.gap()
	}
}

// spawn adds an obstacle at the right edge of the grid. More kinds of
// obstacles appear as the platform speeds up.
func (p *Platformer) spawn() {
	n := min(len(kinds), int(math.Round(p.speed*3)))
	k := kinds[p.rng.Intn(n)]
	p.obstacles = append(p.obstacles, obstacle{kind: k, x: GridSize})
}

// grid returns the state grid
func (p *Platformer) grid() [][]float64 {
	g := make([][]float64, GridSize)
	for i := range g {
		g[i] = make([]float64, GridSize)
	}

	g[p.x][ground-p.height] = 1

	for _, o := range p.obstacles {
		if o.passed {
			continue
		}
		col := int(math.Floor(o.x))
		if col >= 0 && col < GridSize {
			g[col][ground-o.height] = o.cell()
		}
	}
	return g
}

// encode returns the wire encoding of the game's response. The
// response to a control command carries only the state.
func (p *Platformer) encode(full bool) ([]byte, error) {
	var msg struct {
		State  [][]float64 `json:"state"`
		Reward *float64    `json:"reward,omitempty"`
		Done   *bool       `json:"done,omitempty"`
	}
	msg.State = p.grid()

	if full {
		reward := float64(p.score - p.lastScore)
		done := p.phase == after
		p.lastScore = p.score
		msg.Reward, msg.Done = &reward, &done
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}
