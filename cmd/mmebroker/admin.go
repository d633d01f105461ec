package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/mme-broker/internal/audit"
	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/normalize"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/internal/registry"
	"github.com/tjfontaine/mme-broker/internal/runtime"
)

// openStore loads the configuration and opens its storage.
func (a *app) openStore() (*config.Config, ports.StorageProvider, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := runtime.OpenStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, store, nil
}

func newRecentCmd(a *app) *cobra.Command {
	var (
		n      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent non-test exchanges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec := audit.NewRecorder(store, audit.WithLogger(a.logger), audit.WithRecentDefault(cfg.Audit.RecentDefault))
			records, err := rec.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				listing := make([]domain.AuditRecord, len(records))
				for i, r := range records {
					listing[i] = r.WithoutBlobs()
				}
				return writeJSON(out, listing)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSENDER\tRECEIVER\tPATIENT\tMATCHES\tSTATUS\tSECONDS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.2f\n",
					r.CreatedAt.Format(time.RFC3339), r.SenderID, r.ReceiverID, r.QueryPatientID,
					len(r.ResponsePatientIDs), r.Status, r.ElapsedSeconds)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&n, "number", "n", 0, "number of exchanges (default from audit.recent_default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newPeersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Administer federation peers",
	}
	cmd.AddCommand(newPeersListCmd(a), newPeersAddCmd(a), newPeersRemoveCmd(a))
	return cmd
}

func newPeersListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured and stored peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			reg, err := registry.New(cmd.Context(), cfg, registry.WithStore(store), registry.WithLogger(a.logger))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDIRECTION\tNAME\tBASE ADDRESS")
			for _, p := range reg.List("") {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Direction, p.Name, p.BaseAddress)
			}
			return w.Flush()
		},
	}
}

func newPeersAddCmd(a *app) *cobra.Command {
	var (
		name      string
		direction string
		address   string
		secret    string
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Store a peer; a running broker picks it up on its next reload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := domain.ParseDirection(direction)
			if err != nil {
				return err
			}
			peer := domain.Peer{
				ID:           args[0],
				Name:         name,
				Direction:    dir,
				BaseAddress:  address,
				SharedSecret: secret,
			}

			_, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.UpsertPeer(cmd.Context(), peer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s peer %s\n", peer.Direction, peer.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&direction, "direction", "outbound", "inbound or outbound")
	cmd.Flags().StringVar(&address, "base-address", "", "https base address of an outbound peer")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (token for inbound, sent to outbound)")
	return cmd
}

func newPeersRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a stored peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeletePeer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed peer %s\n", args[0])
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate and canonicalize a match request (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			schema, err := runtime.LoadSchema(cfg.Schema)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			canonical, err := normalize.New(schema, a.logger).CanonicalizeRequest(cmd.Context(), body)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(canonical.Bytes()))
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
