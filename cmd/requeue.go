package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/midnight-artisan/artisan"
)

// printRequeueResult writes the operator summary of a requeue run.
func printRequeueResult(w io.Writer, result artisan.RequeueResult) {
	fmt.Fprintf(w, "Found %d orders without invoices sent\n", result.Found)
	for _, entry := range result.Entries {
		if entry.Error != "" {
			fmt.Fprintf(w, "  ✗ Order %s failed: %s\n", entry.OrderID, entry.Error)
			continue
		}
		fmt.Fprintf(w, "  ✓ Order %s queued (task: %s)\n", entry.OrderID, entry.TaskID)
	}
	fmt.Fprintf(w, "\nQueued: %d/%d\n", result.Queued, result.Found)
}

func requeueCommands(a *artisanInstance) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue-invoices",
		Short: "queue invoices for orders that never had one sent",
		Run: func(cmd *cobra.Command, args []string) {
			if err := a.bootstrap(cmd.Context()); err != nil {
				log.Fatal(err)
			}
			defer a.queue.Close()

			if !cmd.Flags().Changed("limit") {
				limit = a.cnf.Invoice.RequeueLimit
			}

			result, err := a.artisan.RequeueUninvoiced(cmd.Context(), limit)
			if err != nil {
				log.Fatalf("Error requeueing invoices: %v", err)
			}
			printRequeueResult(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", artisan.DefaultRequeueLimit, "maximum number of orders to requeue")
	return cmd
}
