package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
	"github.com/httprunner/CaptureAgent/pkg/storage"
)

func newDevicesCmd() *cobra.Command {
	var (
		flagFleet string
		flagKnown bool
		flagDB    string
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List detected cameras, or the devices recorded by past sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if flagKnown {
				return listKnownDevices(cmd.Context(), out, flagDB)
			}
			sys, err := openSystem(flagFleet)
			if err != nil {
				return err
			}
			defer sys.Release()
			return listCameras(cmd.Context(), out, sys)
		},
	}
	cmd.Flags().StringVar(&flagFleet, "sim-fleet", "", "模拟相机清单 YAML，覆盖 CAPTURE_SIM_FLEET")
	cmd.Flags().BoolVar(&flagKnown, "known", false, "从 SQLite 读取历史设备快照")
	cmd.Flags().StringVar(&flagDB, "db", "", "SQLite 路径，覆盖 CAPTURE_DB_PATH")
	return cmd
}

func listCameras(ctx context.Context, out io.Writer, sys camera.System) error {
	cams, err := sys.Cameras(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Library version: %s\n", sys.LibraryVersion())
	fmt.Fprintf(out, "Number of cameras detected: %d\n", len(cams))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSERIAL\tMODEL\tVENDOR")
	for i, cam := range cams {
		tl := cam.TLDeviceNodeMap()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i,
			readOr(tl, camera.NodeDeviceSerialNumber),
			readOr(tl, camera.NodeDeviceModelName),
			readOr(tl, camera.NodeDeviceVendorName))
	}
	return tw.Flush()
}

func readOr(m *nodemap.NodeMap, name string) string {
	v, err := nodemap.ReadString(m.Lookup(name))
	if err != nil {
		return "-"
	}
	return v
}

func listKnownDevices(ctx context.Context, out io.Writer, dbPath string) error {
	path, err := storage.ResolveDatabasePath(dbPath)
	if err != nil {
		return err
	}
	reader, err := storage.OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	devices, err := reader.Devices(ctx)
	if err != nil {
		return err
	}
	log.Debug().Str("db", path).Int("devices", len(devices)).Msg("known devices loaded")

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tMODEL\tSTATUS\tFRAMES\tLAST SEEN\tLAST ERROR")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			d.DeviceSerial, d.Model, d.Status, d.FramesSaved,
			d.LastSeenAt.Format(time.DateTime), d.LastError)
	}
	return tw.Flush()
}

func newNodesCmd() *cobra.Command {
	var (
		flagFleet  string
		flagSerial string
	)

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Print the available feature nodes of each camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := openSystem(flagFleet)
			if err != nil {
				return err
			}
			defer sys.Release()
			return printNodes(cmd.Context(), cmd.OutOrStdout(), sys, flagSerial)
		},
	}
	cmd.Flags().StringVar(&flagFleet, "sim-fleet", "", "模拟相机清单 YAML，覆盖 CAPTURE_SIM_FLEET")
	cmd.Flags().StringVar(&flagSerial, "serial", "", "只打印指定序列号的相机")
	return cmd
}

func printNodes(ctx context.Context, out io.Writer, sys camera.System, serial string) error {
	cams, err := sys.Cameras(ctx)
	if err != nil {
		return err
	}
	for i, cam := range cams {
		tl := cam.TLDeviceNodeMap()
		id := readOr(tl, camera.NodeDeviceSerialNumber)
		if serial != "" && id != serial {
			continue
		}
		fmt.Fprintf(out, "*** DEVICE %d (%s) ***\n", i, id)
		if info, err := nodemap.Describe(tl, camera.NodeDeviceInformation); err != nil {
			fmt.Fprintln(out, "Device control information not available.")
		} else {
			for _, f := range info {
				if !f.Readable {
					fmt.Fprintf(out, "%s: Node not readable\n", f.Name)
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", f.Name, f.Value)
			}
		}
		if err := printDeviceNodes(ctx, out, cam); err != nil {
			return err
		}
	}
	return nil
}

func printDeviceNodes(ctx context.Context, out io.Writer, cam camera.Camera) error {
	if err := cam.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if err := cam.DeInit(); err != nil {
			log.Warn().Err(err).Msg("deinitialize camera failed")
		}
	}()
	nodes, err := cam.NodeMap()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Available nodes:")
	for _, name := range nodes.AvailableNames() {
		n := nodes.Lookup(name)
		value := "<not readable>"
		if v, err := nodemap.ReadValue(n); err == nil {
			value = v.String()
			if n.Kind() == nodemap.KindEnumeration {
				if entry, err := nodemap.ReadEnumName(n); err == nil {
					value = entry
				}
			}
		}
		fmt.Fprintf(out, "  %-20s %-12s %s\n", name, n.Kind(), value)
	}
	return nil
}
