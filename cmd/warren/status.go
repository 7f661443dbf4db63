// ABOUTME: Human-facing status view of operators and the pending queue
// ABOUTME: Color-codes operator eligibility the way an on-call glance needs it

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/store"
)

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	operators, err := st.ListOperators(ctx)
	if err != nil {
		return err
	}
	workloads, err := st.ActiveWorkloads(ctx)
	if err != nil {
		return err
	}
	pending, err := st.ListConversationsByStatus(ctx, store.StatusPending, 0)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	cyan.Printf("Operators (%d)\n", len(operators))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATE\tLOAD\tLAST SEEN")

	now := time.Now()
	for _, op := range operators {
		state := "offline"
		switch {
		case op.Eligible(now, cfg.Routing.LivenessWindow):
			state = green.Sprint("eligible")
		case op.Online:
			state = yellow.Sprint("stale")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.DisplayName, op.Role, state,
			workloads[op.ID],
			op.LastSeen.Local().Format(time.RFC3339),
		)
	}
	w.Flush()

	fmt.Println()
	if len(pending) > 0 {
		yellow.Printf("Pending conversations: %d\n", len(pending))
	} else {
		green.Println("Pending conversations: 0")
	}
	return nil
}
