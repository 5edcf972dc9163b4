package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdserve/cmdserve/internal/config"
	"github.com/cmdserve/cmdserve/internal/logging"
	"github.com/cmdserve/cmdserve/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search through the search engine",
	RunE:  runSearch,
}

var (
	searchRootFlag    string
	searchPatternFlag string
	searchTypeFlag    string
	searchMaxFlag     int
	searchTimeoutFlag time.Duration
	searchJSONFlag    bool
)

func init() {
	searchCmd.Flags().StringVar(&searchRootFlag, "root", ".", "Directory to search under")
	searchCmd.Flags().StringVar(&searchPatternFlag, "pattern", "", "Search pattern (required)")
	searchCmd.Flags().StringVar(&searchTypeFlag, "type", "content", "Search type: content or files")
	searchCmd.Flags().IntVar(&searchMaxFlag, "max-results", 0, "Result cap (default from config)")
	searchCmd.Flags().DurationVar(&searchTimeoutFlag, "timeout", 0, "Search budget (default from config)")
	searchCmd.Flags().BoolVar(&searchJSONFlag, "json", false, "Output as JSON")
	_ = searchCmd.MarkFlagRequired("pattern")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	provider := config.Static{Config: cfg}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	mgr := search.NewManager(provider, logger, "rg")
	defer mgr.Destroy()

	snap, err := mgr.StartSearch(search.Options{
		RootPath:   searchRootFlag,
		Pattern:    searchPatternFlag,
		Type:       search.Type(searchTypeFlag),
		MaxResults: searchMaxFlag,
		Timeout:    searchTimeoutFlag,
	})
	if err != nil {
		return err
	}

	for !snap.Complete {
		time.Sleep(50 * time.Millisecond)
		snap, err = mgr.ReadSearchResults(snap.SessionID)
		if err != nil {
			return err
		}
	}

	if searchJSONFlag {
		data, err := json.MarshalIndent(map[string]any{
			"results":       snap.Results,
			"total_results": snap.TotalResults,
			"timed_out":     snap.TimedOut,
			"error":         snap.Error,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, result := range snap.Results {
		if result.Line > 0 {
			fmt.Printf("%s:%d:%s\n", result.Path, result.Line, result.Text)
		} else {
			fmt.Println(result.Path)
		}
	}
	if snap.TotalResults > len(snap.Results) {
		fmt.Fprintf(os.Stderr, "%d more matches not stored (cap %d)\n",
			snap.TotalResults-len(snap.Results), len(snap.Results))
	}
	if snap.Error != "" {
		fmt.Fprintln(os.Stderr, snap.Error)
	}
	return nil
}
