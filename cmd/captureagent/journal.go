package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/httprunner/CaptureAgent/internal/config"
	"github.com/httprunner/CaptureAgent/pkg/journal"
)

func newJournalCmd() *cobra.Command {
	var flagSerial string

	cmd := &cobra.Command{
		Use:   "journal [file]",
		Short: "Print a capture journal",
		Long:  "journal 解码 capture --journal 写出的 CBOR 事件流，可按设备序列号过滤。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			path = firstNonEmpty(path, config.String(config.EnvJournalPath, ""))
			if path == "" {
				return errors.Errorf("journal file or $%s is required", config.EnvJournalPath)
			}
			return printJournal(cmd.OutOrStdout(), path, flagSerial)
		},
	}
	cmd.Flags().StringVar(&flagSerial, "serial", "", "只显示指定设备的事件")
	return cmd
}

func printJournal(out io.Writer, path, serial string) error {
	reader, err := journal.NewReader(path, strings.TrimSpace(serial))
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
}

func formatEvent(ev journal.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-10s", ev.Timestamp.Format(time.RFC3339Nano), ev.Kind)
	if ev.Serial != "" {
		fmt.Fprintf(&b, " serial=%s", ev.Serial)
	}
	switch ev.Kind {
	case journal.KindTransition:
		fmt.Fprintf(&b, " %s -> %s", ev.From, ev.To)
	case journal.KindSetting:
		fmt.Fprintf(&b, " %s=%s", ev.Setting, ev.Value)
	case journal.KindFrame:
		if ev.FrameIndex != nil {
			fmt.Fprintf(&b, " frame=%d", *ev.FrameIndex)
		}
		fmt.Fprintf(&b, " status=%d", ev.Status)
		if ev.Path != "" {
			fmt.Fprintf(&b, " path=%q", ev.Path)
		}
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " %s", ev.Message)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, " error=%q", ev.Error)
	}
	return b.String()
}
