package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Level is the minimum record level to log. Either 'debug', 'info', 'warn'
	// or 'error'.
	Level string `json:"level" yaml:"level"`

	// Subsystems enables debug logging on log records whose 'subsystem'
	// matches one of the given values (overrides `Level`).
	Subsystems []string `json:"subsystems" yaml:"subsystems"`

	// Output is the sink to write logs to. Either 'stderr' or a file path.
	//
	// Logs must never be written to stdout as stdout carries protocol frames.
	Output string `json:"output" yaml:"output"`
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	if c.Output == "" {
		return fmt.Errorf("missing output")
	}
	if c.Output == "stdout" {
		return fmt.Errorf("unsupported output: stdout")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		"info",
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		nil,
		`
Each log has a 'subsystem' field where the log occured.

'--log.subsystems' enables all log levels for those given subsystems. This
can be useful to debug a particular subsystem without having to enable all
debug logs.

Such as you can enable 'gossip' logs with '--log.subsystems gossip'.`,
	)
	fs.StringVar(
		&c.Output,
		"log.output",
		"stderr",
		`
Where to write logs, either 'stderr' or a file path.

Stdout is reserved for protocol messages so cannot be used.`,
	)
}
