package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

func cmdRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	limit := fs.Int("limit", 20, "number of runs to show (0 for all)")
	fs.Parse(args)

	a := setup(*cfgPath)
	defer a.close()
	if a.hist == nil {
		fmt.Fprintln(os.Stderr, "run history is disabled (history_db is empty)")
		a.close()
		os.Exit(1)
	}

	runs, err := a.hist.List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		a.close()
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("no runs yet")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tDRY\tIN\tKEPT\tMERGED\tSKIPPED\tMALFORMED\tOUT\tOUTPUT")
	for _, r := range runs {
		output := r.Output
		if r.Error != nil {
			output = "error: " + *r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			time.Unix(r.StartedAt, 0).Format("2006-01-02 15:04:05"), r.Status, r.DryRun,
			r.Input, r.Kept, r.Merged, r.Skipped, r.Malformed, r.Records, output)
	}
	tw.Flush()
}
