package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

var (
	runOutput  string
	runOptions []string
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run <url> [quality]",
	Short: "Extract a stream and write its bytes to a file or stdout",
	Long: `Resolve the given URL to a handler, pick a stream by quality name and
copy the raw stream bytes to the output. The quality defaults to
"best"; "worst" and exact names like "720p" also work.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStream,
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write stream to file instead of stdout (\"-\" for stdout)")
	runCmd.Flags().StringArrayVar(&runOptions, "option", nil, "session option as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession()
	if err != nil {
		return err
	}
	for _, kv := range runOptions {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --option %q: want key=value", kv)
		}
		if err := sess.SetOption(key, value); err != nil {
			return err
		}
	}

	url := args[0]
	quality := "best"
	if len(args) == 2 {
		quality = args[1]
	}

	streams, err := sess.Streams(ctx, url)
	if err != nil {
		var noPlugin *plugin.NoPluginError
		if errors.As(err, &noPlugin) {
			return fmt.Errorf("no handler can process this URL: %s", url)
		}
		return err
	}
	if len(streams) == 0 {
		return fmt.Errorf("no playable streams found on %s", url)
	}

	selected, ok := streams[quality]
	if !ok {
		return fmt.Errorf("stream %q not found; available: %s", quality, strings.Join(streamNames(streams), ", "))
	}

	reader, err := selected.Open(ctx)
	if err != nil {
		return fmt.Errorf("opening stream %q: %w", quality, err)
	}
	defer reader.Close()

	out, closeOut, err := openOutput(runOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	logger.Info("streaming",
		slog.String("url", url),
		slog.String("quality", quality),
	)
	written, err := io.Copy(out, reader)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream interrupted after %d bytes: %w", written, err)
	}
	logger.Info("stream finished", slog.Int64("bytes", written))
	return nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// streamNames lists quality names in ascending weight order, with the
// aliases last.
func streamNames(streams map[string]stream.Stream) []string {
	names := make([]string, 0, len(streams))
	var aliases []string
	for name := range streams {
		if name == "best" || name == "worst" {
			aliases = append(aliases, name)
			continue
		}
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		wi, _ := plugin.StreamWeight(names[i])
		wj, _ := plugin.StreamWeight(names[j])
		if wi != wj {
			return wi < wj
		}
		return names[i] < names[j]
	})
	sort.Strings(aliases)
	return append(names, aliases...)
}
