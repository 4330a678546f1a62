package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjaus/barrel"
)

// NewCronCommand creates the cron command group.
func NewCronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron expressions",
	}
	cmd.AddCommand(newCronNextCommand())
	return cmd
}

func newCronNextCommand() *cobra.Command {
	var (
		count int
		from  string
		zone  string
	)
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the next fire times of an expression",
		Long: `Print the next fire times of a cron expression. Six fields include
seconds; five fields start at second zero. Descriptors like @daily work,
@every does not.`,
		Example: `  barrel cron next "0 30 9 * * MON-FRI" -n 3 --tz Europe/Paris`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
			start := time.Now()
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("from: %w", err)
				}
			}
			runs, err := barrel.NextRuns(args[0], start.In(loc), count)
			if err != nil {
				return err
			}
			for _, t := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "how many fire times")
	cmd.Flags().StringVar(&from, "from", "", "start instant (RFC3339), default now")
	cmd.Flags().StringVar(&zone, "tz", "UTC", "timezone the expression is evaluated in")
	return cmd
}
