package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/config"
	"github.com/everydev1618/dockhost/internal/play"
)

// runCmd drives a play file against every host it names.
func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	g := addGlobalFlags(fs)
	runID := fs.String("run", "", "Run identity (default: play run_id, $DOCKHOST_RUN_ID or the process ID)")
	parallel := fs.Int("parallel", 0, "Maximum hosts running at once (0 = all)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum execution time")
	output := fs.String("output", "", "Output format: json or text (default)")

	fs.Usage = func() {
		fmt.Println(`Usage: dockhost run [options] <play.yaml|play.toml>

Run every task of a play on every host, then remove the run's containers.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no play file specified")
		fs.Usage()
		return 1
	}
	setupLogging(g.verbose)

	p, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading play: %v\n", err)
		return 1
	}
	if *runID != "" {
		p.RunID = *runID
	}
	if g.dockerHost == "" {
		g.dockerHost = p.DockerHost
	}

	rt, err := openRuntime(g, p.PullEnabled())
	if err != nil {
		return fail(err)
	}
	defer rt.Close()

	j, err := openJournal(g, p.Journal)
	if err != nil {
		return fail(err)
	}
	if j != nil {
		defer j.Close()
	}

	run := dockhost.NewRun(rt, runOptions(p.RunID, j)...)
	engine := play.New(run, play.WithParallelism(*parallel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	report, err := engine.Execute(ctx, p)
	printReport(report, *output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func printReport(r *play.Report, output string) {
	if output == "json" {
		data, _ := json.MarshalIndent(reportJSON(r), "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("run %s\n", r.Run)
	for _, h := range r.Hosts {
		status := "ok"
		if h.Err != nil {
			status = "failed"
		}
		fmt.Printf("%s [%s]: %s\n", h.Host, h.Image, status)
		for _, t := range h.Tasks {
			mark := "ok"
			if t.Err != nil {
				mark = "FAILED: " + t.Err.Error()
			}
			fmt.Printf("  %-40s %s (%s)\n", t.Task, mark, t.Duration.Round(time.Millisecond))
			if t.Exec != nil && len(t.Exec.Stdout) > 0 {
				fmt.Printf("    %s", indent(string(t.Exec.Stdout)))
			}
		}
	}
}

func indent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == '\n' && i < len(s)-1 {
			out = append(out, "    "...)
		}
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return string(out)
}

type taskJSON struct {
	Task     string `json:"task"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type hostJSON struct {
	Host  string     `json:"host"`
	Image string     `json:"image,omitempty"`
	Tasks []taskJSON `json:"tasks"`
	Error string     `json:"error,omitempty"`
}

func reportJSON(r *play.Report) map[string]any {
	hosts := make([]hostJSON, 0, len(r.Hosts))
	for _, h := range r.Hosts {
		hj := hostJSON{Host: h.Host, Image: h.Image, Tasks: []taskJSON{}}
		if h.Err != nil {
			hj.Error = h.Err.Error()
		}
		for _, t := range h.Tasks {
			tj := taskJSON{Task: t.Task, Duration: t.Duration.String()}
			if t.Exec != nil {
				code := t.Exec.ExitCode
				tj.ExitCode = &code
				tj.Stdout = string(t.Exec.Stdout)
				tj.Stderr = string(t.Exec.Stderr)
			}
			if t.Err != nil {
				tj.Error = t.Err.Error()
			}
			hj.Tasks = append(hj.Tasks, tj)
		}
		hosts = append(hosts, hj)
	}
	return map[string]any{"run": r.Run, "hosts": hosts}
}
