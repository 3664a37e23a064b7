package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var streamsJSON bool

// streamsCmd represents the streams command.
var streamsCmd = &cobra.Command{
	Use:   "streams <url>",
	Short: "List the streams available on a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := newSession()
		if err != nil {
			return err
		}
		streams, err := sess.Streams(ctx, args[0])
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			return fmt.Errorf("no playable streams found on %s", args[0])
		}

		if streamsJSON {
			described := make(map[string]map[string]any, len(streams))
			for name, s := range streams {
				described[name] = s.JSON()
			}
			data, err := json.MarshalIndent(described, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Available streams: %s\n", strings.Join(streamNames(streams), ", "))
		return nil
	},
}

func init() {
	streamsCmd.Flags().BoolVar(&streamsJSON, "json", false, "output stream descriptions as JSON")
	rootCmd.AddCommand(streamsCmd)
}
