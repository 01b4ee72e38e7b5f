package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	captureagent "github.com/httprunner/CaptureAgent"
	"github.com/httprunner/CaptureAgent/internal/config"
	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
	"github.com/httprunner/CaptureAgent/pkg/devconfig"
	"github.com/httprunner/CaptureAgent/pkg/journal"
	"github.com/httprunner/CaptureAgent/pkg/lifecycle"
	"github.com/httprunner/CaptureAgent/pkg/metrics"
	"github.com/httprunner/CaptureAgent/pkg/profile"
	"github.com/httprunner/CaptureAgent/pkg/storage"
)

const defaultConfigPath = "input.tsv"

type captureFlags struct {
	configPath  string
	outputDir   string
	prefix      string
	frames      int
	timeout     time.Duration
	profilePath string
	fleetPath   string
	journalPath string
	metricsPath string
	jsonlPath   string
	dbPath      string
	noDB        bool
}

func newCaptureCmd() *cobra.Command {
	var flags captureFlags

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Configure every camera and capture one synchronized set of frames",
		Long: `capture 先对所有相机完成配置（任一设备失败则跳过采集），随后统一开始采集，
逐台取帧并保存到 <output>/<YYYY-MM-DD HH-MM-SS>/ 下；无论成败都会释放所有设备。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, flags, readlinePrompter{prompt: "Output directory (empty for current): "})
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "设备增益配置 TSV，覆盖 CAPTURE_CONFIG_PATH（默认 input.tsv）")
	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "输出根目录，覆盖 CAPTURE_OUTPUT_DIR；为空时交互输入")
	cmd.Flags().StringVar(&flags.prefix, "prefix", "", "图片文件名前缀，覆盖 CAPTURE_FILE_PREFIX")
	cmd.Flags().IntVarP(&flags.frames, "frames", "n", 0, "每台设备采集帧数，覆盖 CAPTURE_FRAMES（默认 1）")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "单帧取图超时，覆盖 CAPTURE_TIMEOUT（默认 10s）")
	cmd.Flags().StringVar(&flags.profilePath, "profile", "", "采集参数 YAML，覆盖 CAPTURE_PROFILE")
	cmd.Flags().StringVar(&flags.fleetPath, "sim-fleet", "", "模拟相机清单 YAML，覆盖 CAPTURE_SIM_FLEET")
	cmd.Flags().StringVar(&flags.journalPath, "journal", "", "CBOR 事件日志路径，覆盖 CAPTURE_JOURNAL_PATH")
	cmd.Flags().StringVar(&flags.metricsPath, "metrics-file", "", "Prometheus textfile 输出路径，覆盖 CAPTURE_METRICS_PATH")
	cmd.Flags().StringVar(&flags.jsonlPath, "jsonl", "", "JSONL 记录文件，覆盖 CAPTURE_JSONL_PATH")
	cmd.Flags().StringVar(&flags.dbPath, "db", "", "SQLite 路径，覆盖 CAPTURE_DB_PATH")
	cmd.Flags().BoolVar(&flags.noDB, "no-db", false, "不写 SQLite")
	return cmd
}

func runCapture(ctx context.Context, flags captureFlags, prompter DirPrompter) error {
	if err := captureagent.CheckWritable("."); err != nil {
		return err
	}

	prof, err := loadProfile(firstNonEmpty(flags.profilePath, config.String(config.EnvProfilePath, "")))
	if err != nil {
		return err
	}

	configPath := firstNonEmpty(flags.configPath, config.String(config.EnvConfigPath, defaultConfigPath))
	gains, err := devconfig.Load(configPath)
	if gains == nil {
		return err
	}
	if err != nil {
		// Broken blocks only fail the devices they name.
		log.Warn().Err(err).Str("config", configPath).Msg("device config has malformed entries")
	}
	log.Info().Str("config", configPath).Int("devices", len(gains.Entries())).Msg("device config loaded")

	baseDir := firstNonEmpty(flags.outputDir, config.String(config.EnvOutputDir, ""))
	if baseDir == "" {
		if baseDir, err = prompter.PromptDir(); err != nil {
			return err
		}
	}

	sys, err := openSystem(flags.fleetPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Release(); err != nil {
			log.Error().Err(err).Msg("release camera system failed")
		}
	}()

	cfg := captureagent.SessionConfig{
		Gains:       gains,
		Settings:    prof.Apply(lifecycle.DefaultSettings()),
		DefaultGain: defaultGain(prof),
		Frames:      pickInt(flags.frames, config.Int(config.EnvFrames, 0), profileFrames(prof), 1),
		Timeout:     pickDuration(flags.timeout, config.Duration(config.EnvTimeout, 0), profileTimeout(prof), acquire.DefaultTimeout),
		BaseDir:     baseDir,
		Prefix:      firstNonEmpty(flags.prefix, config.String(config.EnvFilePrefix, ""), profilePrefix(prof), acquire.DefaultPrefix),
		Persister:   acquire.PNGPersister{},
		Metrics:     metrics.New(),
		Host:        device.HostID(ctx),
	}

	if path := firstNonEmpty(flags.journalPath, config.String(config.EnvJournalPath, "")); path != "" {
		jl, err := journal.NewFileLogger(path)
		if err != nil {
			return err
		}
		defer jl.Close()
		cfg.Journal = jl
	}

	mgr, err := storage.NewManager(storage.Config{
		JSONLPath:     firstNonEmpty(flags.jsonlPath, config.String(config.EnvJSONLPath, "")),
		DBPath:        flags.dbPath,
		DisableSQLite: flags.noDB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("storage disabled")
	} else {
		defer func() {
			if err := mgr.Close(); err != nil {
				log.Warn().Err(err).Msg("close storage failed")
			}
		}()
		cfg.FrameRecorder = mgr
		cfg.DeviceRecorder = mgr
		cfg.Sessions = mgr
		log.Info().Str("sinks", mgr.Name()).Str("db", mgr.DBPath()).Msg("storage ready")
	}

	res, runErr := captureagent.RunCapture(ctx, sys, cfg)

	if path := firstNonEmpty(flags.metricsPath, config.String(config.EnvMetricsPath, "")); path != "" {
		if err := cfg.Metrics.WriteTextfile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("write metrics failed")
		}
	}
	if runErr != nil {
		return runErr
	}
	log.Info().Str("session", res.ID).Str("dir", res.Dir).Int("devices", len(res.Devices)).Msg("capture completed")
	return nil
}

func loadProfile(path string) (*profile.Profile, error) {
	if path == "" {
		return nil, nil
	}
	prof, err := profile.Load(path)
	if err != nil {
		return nil, errors.WithMessage(err, "load profile")
	}
	log.Info().Str("profile", path).Msg("acquisition profile loaded")
	return prof, nil
}

// defaultGain prefers $CAPTURE_DEFAULT_GAIN over the profile's gain.
func defaultGain(p *profile.Profile) *float64 {
	if g := config.Float(config.EnvDefaultGain, math.NaN()); !math.IsNaN(g) && !math.IsInf(g, 0) {
		return &g
	}
	return p.DefaultGain()
}

func profileFrames(p *profile.Profile) int {
	if p == nil {
		return 0
	}
	return p.Frames
}

func profileTimeout(p *profile.Profile) time.Duration {
	if p == nil {
		return 0
	}
	return p.Timeout
}

func profilePrefix(p *profile.Profile) string {
	if p == nil {
		return ""
	}
	return p.Prefix
}

func pickInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func pickDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
