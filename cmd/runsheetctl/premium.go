package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/runsheet-api/internal/apiclient"
	"github.com/Dhoini/runsheet-api/internal/poller"

	"github.com/spf13/cobra"
)

type premiumFlags struct {
	apiURL   string
	token    string
	interval time.Duration
}

func premiumCommand(global *globalFlags) *cobra.Command {
	flags := &premiumFlags{}

	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Inspect a user's premium access",
	}
	cmd.PersistentFlags().StringVar(&flags.apiURL, "api", envOr("RUNSHEET_API_URL", "http://localhost:3001"), "RunSheet API base URL")
	cmd.PersistentFlags().StringVar(&flags.token, "token", envOr("RUNSHEET_TOKEN", ""), "session token sent as Bearer")

	status := &cobra.Command{
		Use:   "status <userId>",
		Short: "Resolve premium access once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := global.load()
			if err != nil {
				return err
			}
			client := apiclient.New(flags.apiURL, flags.token, log)
			ent, err := client.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve premium status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), ent)
		},
	}

	watch := &cobra.Command{
		Use:   "watch <userId>",
		Short: "Poll premium access and print every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			interval := flags.interval
			if interval <= 0 {
				interval = cfg.Entitlement.PollInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			p := poller.New(apiclient.New(flags.apiURL, flags.token, log), args[0], poller.Options{
				Interval: interval,
				Logger:   log,
				OnChange: func(s poller.Status) {
					line := watchLine{
						IsPremium: s.IsPremium,
						State:     string(s.State),
						Source:    string(s.Source),
						UpdatedAt: s.UpdatedAt,
					}
					if s.Subscription != nil {
						line.SubscriptionID = s.Subscription.ID
					}
					if s.Err != nil {
						line.Error = s.Err.Error()
					}
					_ = printJSON(out, line)
				},
			})
			p.Start(ctx)
			<-ctx.Done()
			p.Stop()
			return nil
		},
	}
	watch.Flags().DurationVar(&flags.interval, "interval", 0, "poll interval (default ENTITLEMENT_POLL_INTERVAL)")

	cmd.AddCommand(status, watch)
	return cmd
}

type watchLine struct {
	IsPremium      bool      `json:"isPremium"`
	State          string    `json:"state,omitempty"`
	Source         string    `json:"source,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
