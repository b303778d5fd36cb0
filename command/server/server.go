package server

import (
	"flag"
	"io/ioutil"
	"net/http"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/mitchellh/cli"

	"keeperd/config"
	"keeperd/httpserver"
	"keeperd/locking"
	"keeperd/version"
)

func NewFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		flags := flag.NewFlagSet("", flag.ContinueOnError)
		flags.SetOutput(ioutil.Discard)
		addr := flags.String("address", ":12000", "")
		configPath := flags.String("config", "", "")

		return &cmd{
			ui:         ui,
			addr:       addr,
			configPath: configPath,
			flags:      flags,
		}, nil
	}
}

type cmd struct {
	ui         cli.Ui
	addr       *string
	configPath *string
	flags      *flag.FlagSet
}

func (c *cmd) Run(args []string) int {
	// Parse arguments.
	if err := c.flags.Parse(args); err != nil {
		c.ui.Error(err.Error())
		c.ui.Error("")
		c.ui.Error(c.Help())
		return 2
	}

	cfg := config.ServerConfig{Address: *c.addr}
	var manager *locking.Manager
	var stopWatch func() error

	if *c.configPath != "" {
		loaded, stop, err := config.Watch(*c.configPath, func(reloaded config.ServerConfig) {
			if manager != nil {
				manager.SetDeadlockDetectorInterval(reloaded.DeadlockDetectorInterval)
			}
			c.ui.Output("Reloaded config from " + *c.configPath)
		})
		if err != nil {
			c.ui.Error("Error loading config: " + err.Error())
			return 1
		}
		cfg = loaded
		stopWatch = stop
		defer stopWatch()
	}

	// Set up the lock manager.
	manager = locking.NewManager(locking.Config{
		DeadlockDetectorInterval: cfg.DeadlockDetectorInterval,
	})
	manager.Start()
	defer manager.Stop()

	// Set up the server.
	handler := httpserver.NewHandler(manager)
	server := &http.Server{
		Addr:    cfg.Address,
		Handler: handler,
	}

	c.ui.Output("Starting keeperd " + version.HumanVersion() + " HTTP API server on " + cfg.Address)

	if err := gracehttp.Serve(server); err != nil {
		c.ui.Error("Error starting HTTP server: " + err.Error())
	}

	return 0
}

func (c *cmd) Synopsis() string {
	return "Start the keeperd server"
}

func (c *cmd) Help() string {
	return `Usage: keeperd server [options]

  Starts the keeperd server.

Options:

  --address=:12000  Listening address.
  --config=path      Optional YAML config file (address, deadlock_detector_interval); a changed deadlock_detector_interval is applied on reload.`
}
