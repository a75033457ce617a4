package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/internal/journal"
)

// journalCmd inspects and prunes the event journal.
func journalCmd(args []string) int {
	if len(args) < 1 {
		printJournalUsage()
		return 1
	}

	sub := args[0]
	fs := flag.NewFlagSet("journal "+sub, flag.ExitOnError)
	g := addGlobalFlags(fs)
	runID := fs.String("run", "", "Run identity (events)")
	limit := fs.Int("limit", 0, "Maximum events to show (0 = all)")
	before := fs.Duration("before", 30*24*time.Hour, "Delete events older than this (prune)")
	fs.Usage = printJournalUsage

	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	setupLogging(g.verbose)
	// The default journal is used unless --journal names another.
	g.record = true

	j, err := openJournal(g, "")
	if err != nil {
		return fail(err)
	}
	defer j.Close()

	switch sub {
	case "runs":
		err = printRuns(os.Stdout, j)
	case "events":
		if *runID == "" {
			err = errors.New("--run is required")
			break
		}
		err = printEvents(os.Stdout, j, dockhost.RunID(*runID), *limit)
	case "prune":
		var n int64
		n, err = j.Prune(time.Now().Add(-*before))
		if err == nil {
			fmt.Printf("deleted %d event(s)\n", n)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown journal command: %s\n\n", sub)
		printJournalUsage()
		return 1
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

func printJournalUsage() {
	fmt.Println(`Usage: dockhost journal <runs|events|prune> [options]

Commands:
  runs      Summarize every recorded run
  events    List the events of one run (--run)
  prune     Delete events older than --before

Options:
  --journal <path>   Journal file (default: $DOCKHOST_HOME/journal.db)
  --run <id>         Run identity for events
  --limit <n>        Maximum events to show
  --before <dur>     Age cutoff for prune (default 720h)`)
}

func printRuns(w io.Writer, j *journal.Journal) error {
	runs, err := j.Runs()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tHOSTS\tEVENTS\tFAILURES\tLAST SEEN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.Run, r.Hosts, r.Events, r.Failures, r.LastSeen.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printEvents(w io.Writer, j *journal.Journal, run dockhost.RunID, limit int) error {
	events, err := j.Events(run, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tHOST\tDETAIL\tRESULT")
	for _, e := range events {
		detail := e.Command
		if detail == "" {
			detail = e.Path
		}
		result := fmt.Sprintf("ok (%s)", e.Duration.Round(time.Millisecond))
		switch {
		case e.Error != "":
			result = "error: " + e.Error
		case e.Type == dockhost.EventExec:
			result = fmt.Sprintf("exit %d (%s)", e.ExitCode, e.Duration.Round(time.Millisecond))
		case e.Type == dockhost.EventCleanup:
			result = fmt.Sprintf("removed %d", e.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.Host, detail, result)
	}
	return tw.Flush()
}
