package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"ledgercast/internal/app"
	"ledgercast/internal/dispatch"
	"ledgercast/internal/eventbus"
	"ledgercast/internal/ledger"
	"ledgercast/internal/report"
)

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "ledgercast"
	a.Usage = "build, sign and announce transfer transactions to a ledger node"
	a.Action = cli.ShowAppHelp
	a.ExitErrHandler = func(*cli.Context, error) {}
	a.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a json, yaml or toml config file",
			EnvVars: []string{"LEDGERCAST_CONFIG"},
		},
	}
	a.Commands = []*cli.Command{
		{
			Action:   runCmd,
			Name:     "run",
			Usage:    "Dispatch a batch of transfers",
			Category: "Dispatch",
			Flags: append(requestFlags(),
				&cli.StringFlag{Name: "mode", Usage: "sequential or concurrent"},
				&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of transactions"},
				&cli.IntFlag{Name: "concurrency", Usage: "max transactions in flight (concurrent mode)"},
				&cli.Float64Flag{Name: "rate", Usage: "slot turnover pacing per second: each slot is held 1/rate after its transaction finishes, 0 for unpaced"},
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "text", Usage: "text or json"},
				&cli.BoolFlag{Name: "progress", Usage: "print one line per finished transaction to stderr"},
			),
			Description: `Runs count build-sign-announce units. "{seq}" in the message is replaced by each unit's index.`,
		},
		{
			Action:      sendCmd,
			Name:        "send",
			Usage:       "Send a single transfer and print the receipt",
			Category:    "Dispatch",
			Flags:       requestFlags(),
			Description: `Same as "run --count 1", printed as a JSON receipt.`,
		},
		{
			Action:   serveCmd,
			Name:     "serve",
			Usage:    "Serve the HTTP invocation surface and the optional schedule",
			Category: "Service",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "addr", Usage: "listen address, overrides server.addr"},
				&cli.StringFlag{Name: "schedule", Usage: "cron spec or HH:MM interval, overrides schedule.spec"},
			},
		},
		{
			Action:   historyCmd,
			Name:     "history",
			Usage:    "Show recorded runs",
			Category: "Service",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 10, Usage: "number of runs to show"},
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "text", Usage: "text or json"},
			},
		},
	}
	return a
}

func requestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "recipient", Usage: "recipient address, overrides the configured one"},
		&cli.StringFlag{Name: "message", Usage: "plain message attached to the transfer"},
		&cli.Uint64Flag{Name: "amount", Usage: "amount in minor units"},
	}
}

func openApp(c *cli.Context) (*app.App, error) {
	return app.New(c.String("config"))
}

func requestFrom(c *cli.Context) ledger.Request {
	return ledger.Request{
		Recipient: c.String("recipient"),
		Message:   c.String("message"),
		Amount:    c.Uint64("amount"),
	}
}

func runCmd(c *cli.Context) error {
	format, err := report.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := app.RunConfig(a.Config())
	if err != nil {
		return err
	}
	if c.IsSet("mode") {
		if rc.Mode, err = dispatch.ParseMode(c.String("mode")); err != nil {
			return err
		}
	}
	if c.IsSet("count") {
		rc.Total = c.Int("count")
	}
	if c.IsSet("concurrency") {
		rc.ConcurrencyLimit = c.Int("concurrency")
	}
	if c.IsSet("rate") {
		rc.RatePerSecond = c.Float64("rate")
	}

	if c.Bool("progress") {
		defer followProgress(a.Bus(), min(rc.Total+1, maxProgressBuffer), os.Stderr)()
	}

	res, err := a.RunBatch(c.Context, rc, requestFrom(c), app.TriggerCLI)
	if err != nil {
		return err
	}
	if err := report.Write(c.App.Writer, res, format); err != nil {
		return err
	}
	if announced, _, _ := res.Counts(); announced == 0 && res.Total > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

const maxProgressBuffer = 4096

// followProgress subscribes before returning, so no unit event of a run started
// afterwards is missed unless the buffer overflows. The returned stop func
// drains what is buffered and waits for the printer.
func followProgress(bus eventbus.Bus, buffer int, w io.Writer) (stop func()) {
	events, unsubscribe := bus.Subscribe(buffer)
	show := printProgress(w)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Type == dispatch.EventUnit {
				show(e)
			}
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func printProgress(w io.Writer) func(eventbus.Event) {
	return func(e eventbus.Event) {
		ev, ok := e.Data.(dispatch.UnitEvent)
		if !ok {
			return
		}
		detail := ev.Outcome.Hash
		if ev.Outcome.ErrorDetail != "" {
			detail = ev.Outcome.ErrorDetail
		}
		fmt.Fprintf(w, "[%d/%d] #%d %s %s\n", ev.Completed, ev.Total, ev.Outcome.Index, ev.Outcome.Status, detail)
	}
}

func sendCmd(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	r := a.Send(c.Context, requestFrom(c))
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return err
	}
	if !r.Success {
		return cli.Exit("", 1)
	}
	return nil
}

func serveCmd(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(c.Context, app.ServeOptions{
		Addr:     c.String("addr"),
		Schedule: c.String("schedule"),
	})
}

func historyCmd(c *cli.Context) error {
	format, err := report.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.History(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return report.WriteHistory(c.App.Writer, runs, format)
}
