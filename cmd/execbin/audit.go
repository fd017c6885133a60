package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"execbin/internal/config"
	"execbin/internal/storage"
	logx "execbin/pkg/logx"
)

func newAuditCmd() *cobra.Command {
	var (
		cfgFlag  string
		taskName string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded task events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(configPath(cfgFlag)).Parse()
			if err != nil {
				return err
			}
			stCfg, err := cfg.StorageSettings()
			if err != nil {
				return err
			}
			st, err := storage.Open(stCfg, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return storage.ErrDisabled
			}
			defer func() { _ = st.Close() }()

			entries, err := st.ListAudit(cmd.Context(), taskName, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeAuditJSON(cmd.OutOrStdout(), entries)
			}
			return writeAuditTable(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVarP(&cfgFlag, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&taskName, "task", "t", "", "only show this task")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	return cmd
}

func writeAuditJSON(w io.Writer, entries []storage.AuditEntry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func writeAuditTable(w io.Writer, entries []storage.AuditEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tTASK\tACTION\tTARGET\tSTATUS\tTOOK\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.At.Local().Format(time.DateTime), e.Task, e.Action, e.Target, e.Status, e.TookMS, e.Error)
	}
	return tw.Flush()
}
