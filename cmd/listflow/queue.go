package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/busybox42/listflow/internal/config"
	"github.com/busybox42/listflow/internal/queue"
)

var queueNames = []string{
	queue.Incoming,
	queue.Outgoing,
	queue.Bounces,
	queue.Retry,
	queue.Hold,
	queue.Archive,
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue management commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pending counts for every queue",
		RunE:  queueStats,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <queue>",
		Short: "List pending items in a queue",
		Args:  cobra.ExactArgs(1),
		RunE:  queueList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "flush <queue>",
		Short: "Delete every pending item in a queue",
		Args:  cobra.ExactArgs(1),
		RunE:  queueFlush,
	})
	return cmd
}

func openQueue(name string) (*queue.Switchboard, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, known := range queueNames {
		if name == known {
			return queue.Open(cfg.Queue.Dir, name)
		}
	}
	return nil, fmt.Errorf("unknown queue: %s", name)
}

func queueStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Queue\tPending")
	fmt.Fprintln(w, "-----\t-------")
	for _, name := range queueNames {
		sb, err := queue.Open(cfg.Queue.Dir, name)
		if err != nil {
			return err
		}
		n, err := sb.Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", name, n)
	}
	return w.Flush()
}

func queueList(cmd *cobra.Command, args []string) error {
	sb, err := openQueue(args[0])
	if err != nil {
		return err
	}
	items, err := sb.Pending()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No items in queue")
		return nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Enqueued.Before(items[j].Enqueued) })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tList\tSender\tEnqueued\tAttempts\tSize")
	fmt.Fprintln(w, "--\t----\t------\t--------\t--------\t----")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			item.ID,
			item.Meta.GetString(queue.MetaListname),
			item.Meta.GetString(queue.MetaSender),
			item.Enqueued.Format("2006-01-02 15:04:05"),
			item.Attempts,
			len(item.Message),
		)
	}
	return w.Flush()
}

func queueFlush(cmd *cobra.Command, args []string) error {
	sb, err := openQueue(args[0])
	if err != nil {
		return err
	}
	n, err := sb.Flush()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d items from %s\n", n, args[0])
	return nil
}
