package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/makeasinger/enrichment/internal/app"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/logging"
)

type commandContext struct {
	logLevel *string
	jsonOut  *bool

	app *app.App
}

func newCommandContext(logLevel *string, jsonOut *bool) *commandContext {
	return &commandContext{logLevel: logLevel, jsonOut: jsonOut}
}

// withApp builds the pipeline on first use. Commands that only need config
// never touch Redis.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	if c.app == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(*c.logLevel, cfg.Server.Env)
		log.SetOutput(cmd.ErrOrStderr())

		a, err := app.New(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		if cfg.Store.Driver != "redis" {
			log.Warn("Store driver is memory, jobs do not outlive this command")
		}
		c.app = a
	}
	return fn(c.app)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonOut != nil && *c.jsonOut
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
