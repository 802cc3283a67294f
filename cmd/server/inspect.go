package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

func newInspectCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read drafts and idempotency markers from the configured store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "marker <correlation-id>",
		Short: "Print the idempotency marker of a correlation id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores(state.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := st.guard.Lookup(cmd.Context(), args[0])
			if errors.Is(err, idempotency.ErrNotFound) {
				return fmt.Errorf("no marker for %s", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "draft <scope> <kind>",
		Short: "Print the pending draft of a scope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := pending.ParseKind(args[1])
			if err != nil {
				return err
			}
			st, err := openStores(state.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tx, err := st.pending.Load(cmd.Context(), args[0], kind)
			if errors.Is(err, pending.ErrNotFound) {
				return fmt.Errorf("no %s draft for %s", kind.Route(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	})
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
