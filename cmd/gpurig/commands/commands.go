package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/log"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	ConfigPath string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory holding the database, workspaces and checkout keys.").Envar("GPURIG_DATA_DIR").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("config", "Path to the configuration file (defaults to <data-dir>/config.yaml).").Envar("GPURIG_CONFIG").StringVar(&c.ConfigPath)

	return c
}

// DBPath returns the SQLite database path under the data dir.
func (c *RootCommand) DBPath() string {
	return conventions.DBPath(c.DataDir)
}

// ConfigFilePath returns the configuration file path, falling back to the
// conventional location under the data dir.
func (c *RootCommand) ConfigFilePath() string {
	if c.ConfigPath != "" {
		return c.ConfigPath
	}
	return conventions.ConfigPath(c.DataDir)
}
