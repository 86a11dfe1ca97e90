// Package config reads the configuration of the agent from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/agent"
	"github.com/samuelfneumann/gamelearn/checkpoint"
	"github.com/samuelfneumann/gamelearn/initwfn"
	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/scheduler"
	"github.com/samuelfneumann/gamelearn/session"
	"github.com/samuelfneumann/gamelearn/solver"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

var validate = validator.New()

// Config is the complete configuration of the agent
type Config struct {
	StateShape  []int `yaml:"state_shape" validate:"required,min=1,dive,gt=0"`
	ActionCount int   `yaml:"action_count" validate:"gt=0"`

	Gamma        float64        `yaml:"gamma" validate:"gt=0,lte=1"`
	Epsilon      float64        `yaml:"epsilon" validate:"gte=0,lte=1,gtefield=EpsilonMin"`
	EpsilonMin   float64        `yaml:"epsilon_min" validate:"gte=0,lte=1"`
	EpsilonDecay float64        `yaml:"epsilon_decay" validate:"gt=0,lt=1"`
	DecayCadence policy.Cadence `yaml:"decay_cadence" validate:"oneof=per_learning_cycle per_episode"`
	LearningRate float64        `yaml:"learning_rate" validate:"gt=0"`

	ReplayCapacity   int            `yaml:"replay_capacity" validate:"gt=0"`
	BatchSize        int            `yaml:"batch_size" validate:"gt=0"`
	LearningInterval int            `yaml:"learning_interval" validate:"gt=0"`
	LearningUnit     scheduler.Unit `yaml:"learning_unit" validate:"oneof=steps episodes"`
	CheckpointEvery  int            `yaml:"checkpoint_every" validate:"gte=0"`

	MaxSteps     int           `yaml:"max_steps_per_episode" validate:"gt=0"`
	Episodes     int           `yaml:"total_episode_budget" validate:"gt=0"`
	EpisodeScope session.Scope `yaml:"episode_scope" validate:"oneof=global connection"`

	StepDelay       time.Duration  `yaml:"step_delay" validate:"gte=0"`
	EvalStepDelay   time.Duration  `yaml:"eval_step_delay" validate:"gte=0"`
	ResponseTimeout time.Duration  `yaml:"response_timeout" validate:"gte=0"`
	StartCommand    action.Control `yaml:"start_command" validate:"oneof=Reset Start"`

	Seed uint64 `yaml:"seed"`

	Model      Model             `yaml:"model"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	Server     Server            `yaml:"server"`
	Client     Client            `yaml:"client"`
	Log        Log               `yaml:"log"`
}

// Model describes the value function
type Model struct {
	Kind       valuefn.Kind   `yaml:"kind" validate:"oneof=mlp linear"`
	Hidden     []int          `yaml:"hidden_layers" validate:"dive,gt=0"`
	Activation string         `yaml:"activation" validate:"oneof=relu tanh sigmoid identity"`
	Init       initwfn.Config `yaml:"init"`

	// The step size of the solver is the learning rate
	Solver solver.Config `yaml:"solver" validate:"-"`
}

// Server describes the WebSocket server games connect to
type Server struct {
	Addr string `yaml:"addr" validate:"required"`
	Path string `yaml:"path" validate:"required,startswith=/"`
}

// Client describes the game the agent connects to
type Client struct {
	URL string `yaml:"url" validate:"required,url"`
}

// Log describes the application logger
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the default configuration, which plays the platformer
// game
func Default() Config {
	return Config{
		StateShape:       []int{100},
		ActionCount:      action.DefaultCount,
		Gamma:            0.95,
		Epsilon:          1.0,
		EpsilonMin:       0.01,
		EpsilonDecay:     0.995,
		DecayCadence:     policy.PerLearningCycle,
		LearningRate:     0.001,
		ReplayCapacity:   2000,
		BatchSize:        32,
		LearningInterval: 1,
		LearningUnit:     scheduler.Steps,
		CheckpointEvery:  1,
		MaxSteps:         500,
		Episodes:         1000,
		EpisodeScope:     session.Global,
		EvalStepDelay:    500 * time.Millisecond,
		ResponseTimeout:  30 * time.Second,
		StartCommand:     action.Reset,
		Seed:             1,
		Model: Model{
			Kind:       valuefn.MLPKind,
			Hidden:     []int{24, 24},
			Activation: "relu",
			Init:       initwfn.Config{Type: initwfn.GlorotU, Gain: 1},
			Solver:     solver.Config{Type: solver.Adam},
		},
		Checkpoint: checkpoint.Config{
			Backend: checkpoint.FileBackend,
			Key:     checkpoint.DefaultKey,
		},
		Server: Server{Addr: ":8081", Path: "/"},
		Client: Client{URL: "ws://localhost:8081"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path over the defaults. Keys
// missing from the file keep their default value and unknown keys are
// an error. If path is empty the defaults are returned.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("load: could not parse %v: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("load: %v: %w", path, err)
	}
	return c, nil
}

// Validate checks that c describes a runnable agent
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.Agent().Validate(); err != nil {
		return err
	}
	if err := c.Agent().ValueFunction.Validate(); err != nil {
		return err
	}
	return nil
}

// StateSize returns the number of features in a flattened state
func (c Config) StateSize() int {
	return c.Agent().StateSize()
}

// Agent returns the configuration of the agent
func (c Config) Agent() agent.Config {
	features := 1
	for _, dim := range c.StateShape {
		features *= dim
	}

	s := c.Model.Solver
	s.StepSize = c.LearningRate

	return agent.Config{
		StateShape:     c.StateShape,
		ActionCount:    c.ActionCount,
		Gamma:          c.Gamma,
		Epsilon:        c.Epsilon,
		EpsilonMin:     c.EpsilonMin,
		EpsilonDecay:   c.EpsilonDecay,
		Cadence:        c.DecayCadence,
		LearningRate:   c.LearningRate,
		ReplayCapacity: c.ReplayCapacity,
		BatchSize:      c.BatchSize,
		Seed:           c.Seed,
		ValueFunction: valuefn.Config{
			Kind:       c.Model.Kind,
			Features:   features,
			Actions:    c.ActionCount,
			Hidden:     c.Model.Hidden,
			Activation: c.Model.Activation,
			Init:       c.Model.Init,
			Solver:     s,
		},
	}
}

// Scheduler returns the configuration of the learning scheduler
func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval:        c.LearningInterval,
		Unit:            c.LearningUnit,
		CheckpointEvery: c.CheckpointEvery,
	}
}

// Session returns the options of a session. In evaluation mode the
// evaluation step delay paces the session.
func (c Config) Session(eval bool, budget *session.Budget) session.Options {
	delay := c.StepDelay
	if eval {
		delay = c.EvalStepDelay
	}
	return session.Options{
		MaxSteps:     c.MaxSteps,
		Eval:         eval,
		StepDelay:    delay,
		StartCommand: c.StartCommand,
		Budget:       budget,
	}
}
