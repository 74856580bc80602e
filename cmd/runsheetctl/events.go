package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/runsheet-api/internal/kafka"

	"github.com/spf13/cobra"
)

type eventsFlags struct {
	brokers    []string
	topic      string
	group      string
	fromOldest bool
	userID     string
}

func eventsCommand(global *globalFlags) *cobra.Command {
	flags := &eventsFlags{}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Entitlement change events",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print entitlement.changed events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			consumerCfg := kafka.ConsumerConfig{
				Brokers:    cfg.Kafka.Brokers,
				Topic:      cfg.Kafka.Topic,
				Group:      cfg.Kafka.GroupID,
				FromOldest: flags.fromOldest,
			}
			if len(flags.brokers) > 0 {
				consumerCfg.Brokers = flags.brokers
			}
			if flags.topic != "" {
				consumerCfg.Topic = flags.topic
			}
			if flags.group != "" {
				consumerCfg.Group = flags.group
			}

			out := cmd.OutOrStdout()
			consumer, err := kafka.NewConsumer(consumerCfg, func(_ context.Context, d kafka.Delivery) error {
				if flags.userID != "" && d.Event.UserID != flags.userID {
					return nil
				}
				return printJSON(out, tailLine{
					Partition: d.Partition,
					Offset:    d.Offset,
					Timestamp: d.Timestamp,
					Event:     d.Event,
				})
			}, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := consumer.Run(ctx); err != nil {
				return fmt.Errorf("events tail stopped: %w", err)
			}
			return nil
		},
	}
	tail.Flags().StringSliceVar(&flags.brokers, "brokers", nil, "Kafka brokers (default KAFKA_BROKERS)")
	tail.Flags().StringVar(&flags.topic, "topic", "", "topic (default KAFKA_TOPIC)")
	tail.Flags().StringVar(&flags.group, "group", "", "consumer group (default KAFKA_GROUP_ID)")
	tail.Flags().BoolVar(&flags.fromOldest, "from-beginning", false, "start from the oldest retained offset for a new group")
	tail.Flags().StringVar(&flags.userID, "user", "", "only print events for this user")

	cmd.AddCommand(tail)
	return cmd
}

type tailLine struct {
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Event     any       `json:"event"`
}
