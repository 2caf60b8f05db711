package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/snare/packages/core/config"
	"github.com/abdul-hamid-achik/snare/packages/db"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured responses",
	Long: `List responses recorded in the metadata database, newest first.

Examples:
  snare list
  snare list --ext png --limit 20
  snare list --url example.com --header content-length
  snare list --header 'x-cache*'
  snare list --json`,
	Args: cobra.NoArgs,
	RunE: listCommand,
}

var (
	listLimitFlag  int
	listExtFlag    string
	listURLFlag    string
	listHeaderFlag string
	listJSONFlag   bool
)

func init() {
	listCmd.Flags().StringVar(&databaseFlag, "database", getEnvString("SNARE_DATABASE", config.DefaultDatabase), "SQLite metadata database (env: SNARE_DATABASE)")
	listCmd.Flags().IntVarP(&listLimitFlag, "limit", "n", 50, "Maximum records to show (0 = all)")
	listCmd.Flags().StringVar(&listExtFlag, "ext", "", "Only show records with this extension")
	listCmd.Flags().StringVar(&listURLFlag, "url", "", "Only show records whose URL contains this text")
	listCmd.Flags().StringVar(&listHeaderFlag, "header", "", "Show a response header for each record (name or gjson path, e.g. 'x-*')")
	listCmd.Flags().BoolVar(&listJSONFlag, "json", false, "Output records as JSON")
}

// listEntry is the JSON shape of one listed record
type listEntry struct {
	ID          string            `json:"id"`
	File        string            `json:"file"`
	URL         string            `json:"url"`
	Extension   string            `json:"extension"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

func listCommand(cmd *cobra.Command, args []string) error {
	if listLimitFlag < 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("--limit must not be negative"))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := db.OpenExisting(cmd.Context(), cfg.Database, db.WithLogger(logger))
	if errors.Is(err, db.ErrNotFound) {
		return withExitCode(ExitStorageError, fmt.Errorf("%w (run 'snare capture' first or pass --database)", err))
	}
	if err != nil {
		return withExitCode(ExitStorageError, err)
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), db.ListOptions{
		Limit:       listLimitFlag,
		Extension:   listExtFlag,
		URLContains: listURLFlag,
	})
	if err != nil {
		return withExitCode(ExitStorageError, err)
	}

	if listJSONFlag {
		return writeListJSON(cmd.OutOrStdout(), records)
	}

	total, err := store.Count(cmd.Context())
	if err != nil {
		return withExitCode(ExitStorageError, err)
	}
	return writeListText(cmd.OutOrStdout(), records, total, listHeaderFlag, cfg.GetNoColor())
}

func writeListJSON(w io.Writer, records []*db.Record) error {
	entries := make([]listEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, listEntry{
			ID:          r.ID,
			File:        r.Filename(),
			URL:         r.URL,
			Extension:   r.Extension,
			ContentType: r.ContentType,
			Headers:     r.Headers,
			CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeListText(w io.Writer, records []*db.Record, total int64, header string, noColor bool) error {
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	bold := color.New(color.Bold)
	if noColor {
		cyan.DisableColor()
		dim.DisableColor()
		bold.DisableColor()
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No captured responses.")
		return nil
	}

	for _, r := range records {
		fmt.Fprintf(w, "%s  %s  %s\n",
			dim.Sprint(r.CreatedAt.UTC().Format("2006-01-02 15:04:05")),
			cyan.Sprint(r.Filename()),
			r.URL)

		if header != "" {
			value, err := headerValue(r, header)
			if err != nil {
				return err
			}
			if value != "" {
				fmt.Fprintf(w, "    %s: %s\n", header, value)
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", bold.Sprintf("%d of %d records", len(records), total))
	return nil
}

// headerValue reads a header from the stored JSON. A plain name matches
// case-insensitively; anything else is tried as a gjson path, so patterns
// such as "x-*" or "@keys" work too.
func headerValue(r *db.Record, name string) (string, error) {
	raw := r.RawHeaders
	if raw == "" {
		encoded, err := r.HeadersJSON()
		if err != nil {
			return "", err
		}
		raw = encoded
	}
	if raw == "" {
		return "", nil
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("stored headers for %s are not valid JSON", r.ID)
	}

	headers := gjson.Parse(raw)
	var value string
	found := false
	headers.ForEach(func(key, v gjson.Result) bool {
		if strings.EqualFold(key.String(), name) {
			value, found = v.String(), true
			return false
		}
		return true
	})
	if found {
		return value, nil
	}

	if res := headers.Get(name); res.Exists() {
		return res.String(), nil
	}
	return "", nil
}
