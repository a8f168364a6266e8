package main

import (
	"circlereports/internal/core"
	"circlereports/pkg/domain"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newSaveCmd(a *app) *cobra.Command {
	var fields []string
	var file string
	cmd := &cobra.Command{
		Use:   "save [name]",
		Short: "Save a record, appending the change to its history",
		Long: "Save a record built from --field key=value pairs and/or a JSON object read from --file\n" +
			"(\"-\" reads stdin). Without a name one is generated from the student name.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := domain.Record{}
			if file != "" {
				loaded, err := readRecord(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				rec = loaded
			}
			for _, kv := range fields {
				key, value, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("invalid --field %q: expected key=value", kv)
				}
				rec[strings.TrimSpace(key)] = value
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			res, err := a.svc.SaveRecord(cmd.Context(), name, rec)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "record field as key=value (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "JSON object to read the record from")
	return cmd
}

func readRecord(stdin io.Reader, path string) (domain.Record, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	rec, err := domain.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a record's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.svc.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(core.NamedRecord{Name: args[0], Record: rec})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var sortKey string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every readable record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := a.svc.ListRecords(cmd.Context())
			if err != nil {
				return err
			}
			core.SortRecords(records, sortKey)
			return a.printJSON(records)
		},
	}
	cmd.Flags().StringVar(&sortKey, "sort", core.SortKeyName, "sort by name, date or any field")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a record's current state; its history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := a.svc.DeleteRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"name": args[0], "deleted": existed})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "Print a record's version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []domain.VersionEntry{}
			}
			return a.printJSON(entries)
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var criteria domain.ReportCriteria
	var mode string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Extract a deduplicated, date-filtered report per student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := domain.ParseMode(mode)
			if err != nil {
				return err
			}
			criteria.Mode = m
			rep, err := a.svc.Extract(cmd.Context(), criteria)
			if err != nil {
				return err
			}
			return a.printJSON(rep)
		},
	}
	cmd.Flags().StringVar(&criteria.Identity, "student", "", "only report this student name")
	cmd.Flags().IntVar(&criteria.Month, "month", 0, "month 1-12 (0 means any)")
	cmd.Flags().IntVar(&criteria.Year, "year", 0, "year (0 means any)")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeAll), "first, last or all")
	cmd.Flags().BoolVar(&criteria.IncludeDeleted, "include-deleted", false, "include history of deleted records")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var fields []string
	var sortKey string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Case-insensitive substring search over record fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := a.svc.SearchRecords(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			core.SortRecords(hits, sortKey)
			return a.printJSON(hits)
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "fields to search (default student_name, teacher_name, email, date)")
	cmd.Flags().StringVar(&sortKey, "sort", core.SortKeyName, "sort by name, date or any field")
	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive every current record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archive, err := a.svc.Backup(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(archive)
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "Save every valid record from an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.svc.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(rep)
		},
	}
}

func newBackupsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archives, err := a.svc.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(archives)
		},
	}
}
