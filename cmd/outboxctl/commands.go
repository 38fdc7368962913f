package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/shelterflex/rent-service/pkg/adminclient"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validOutputs = []string{"text", "json", "yaml"}

type rootOptions struct {
	BaseURL string
	Output  string
	out     io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}

	cmd := &cobra.Command{
		Use:           "outboxctl",
		Short:         "Inspect and retry ShelterFlex receipt outbox items",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validOutputs)
			}
			return nil
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "http://localhost:8080", "rent service base URL")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newRetryAllCommand(opts))
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := adminclient.NewClient(opts.BaseURL).ListOutbox(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			return opts.render(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tEXTERNAL REF\tLAST ERROR")
				for _, item := range list.Items {
					lastError := "-"
					if item.LastError != nil {
						lastError = *item.LastError
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", item.ID, item.TxType, item.Status, item.Attempts, item.ExternalRef, lastError)
				}
				tw.Flush()
				fmt.Fprintf(w, "%d item(s)\n", list.Total)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|sent|failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to return (server default when 0)")
	return cmd
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <outbox-id>",
		Short: "Retry one outbox item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := adminclient.NewClient(opts.BaseURL).Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.render(result, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s (status=%s attempts=%d)\n", result.Item.ID, result.Message, result.Item.Status, result.Item.Attempts)
			})
		},
	}
}

func newRetryAllCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-all",
		Short: "Retry every failed outbox item, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := adminclient.NewClient(opts.BaseURL).RetryAll(cmd.Context())
			if err != nil {
				return err
			}
			return opts.render(result, func(w io.Writer) {
				fmt.Fprintln(w, result.Message)
			})
		},
	}
}

func (o *rootOptions) render(v any, text func(io.Writer)) error {
	switch o.Output {
	case "json":
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(o.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(o.out)
		return nil
	}
}
