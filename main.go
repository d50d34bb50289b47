package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/whisper-darkly/sticky-splitter/analyser"
	"github.com/whisper-darkly/sticky-splitter/logger"
	"github.com/whisper-darkly/sticky-splitter/playlist"
	"github.com/whisper-darkly/sticky-splitter/probe"
	"github.com/whisper-darkly/sticky-splitter/splitter"
	"github.com/whisper-darkly/sticky-splitter/stream"
	"github.com/whisper-darkly/sticky-splitter/units"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

func main() {
	// CLI flags: --long-name / -s shorthand, STICKY_* env fallbacks
	input := flag.StringP("input", "i", envOrDefault("STICKY_INPUT", ""), "Media playlist URL of the live fMP4 stream (required)")
	source := flag.StringP("source", "s", envOrDefault("STICKY_SOURCE", "stream"), "Source name available in path templates")
	outPattern := flag.StringP("out", "o", envOrDefault("STICKY_OUT", ""), "Output file path template (required, .m4s appended)")
	indexPath := flag.StringP("index", "x", envOrDefault("STICKY_INDEX", ""), "Index playlist path, .m3u8 (empty=disabled)")
	cookies := flag.StringP("cookies", "c", envOrDefault("STICKY_COOKIES", ""), "HTTP cookies (format: key=value; key2=value2)")
	userAgent := flag.StringP("user-agent", "a", envOrDefault("STICKY_USER_AGENT", ""), "Custom User-Agent header")
	splitTime := flag.StringP("split-time", "l", "", "Max duration per output file (0=disabled, e.g. 1h, 01:00:00)")
	splitSize := flag.String("split-size", "", "Max size per output file (0=disabled, e.g. 500MB, 1.5GB)")
	pollInterval := flag.String("poll-interval", "", "Playlist poll interval (default: half the target duration)")
	stallTimeout := flag.String("stall-timeout", "", "No new segments within this = stream ended (default 00:00:30)")
	probeInterval := flag.String("probe-interval", "", "Interval between metadata probes (default 00:01:00)")
	probeTimeout := flag.String("probe-timeout", "", "Timeout for a single probe (default 00:00:10)")
	metadataInterval := flag.StringP("metadata-interval", "m", "", "Interval for METADATA events (0=disabled, e.g. 30s)")
	logPath := flag.String("log", envOrDefault("STICKY_LOG", ""), "Log file path (empty=stdout only)")
	logLevel := flag.String("log-level", envOrDefault("STICKY_LOG_LEVEL", "info"), "Log level: debug, info, warn, error, fatal")
	outputFormat := flag.String("output-format", envOrDefault("STICKY_OUTPUT_FORMAT", "normal"), "Output format: normal, json")
	showVersion := flag.BoolP("version", "V", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sticky-splitter %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <playlist-url> [output-template]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Record a live fMP4 stream into rotating .m4s files, starting a new\n")
		fmt.Fprintf(os.Stderr, "file whenever the codec setup changes or a split is forced.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDurations: hh:mm:ss | 1h30m | plain minutes. Sizes: 500MB | 1.5GB.\n")
		fmt.Fprintf(os.Stderr, "Exit codes: 0=ok  1=error\n")
	}

	if len(os.Args) == 1 {
		flag.Usage()
		os.Exit(0)
	}

	flag.Parse()

	if *showVersion {
		fmt.Println("sticky-splitter", version)
		os.Exit(0)
	}

	// Positional arguments: [playlist-url] [output-template]
	if flag.NArg() > 0 {
		if *input == "" {
			*input = flag.Arg(0)
		}
		if *outPattern == "" && flag.NArg() > 1 {
			*outPattern = flag.Arg(flag.NArg() - 1)
		}
	}

	// Create logger early so all validation messages use it
	log := logger.New(logger.ParseLevel(*logLevel))
	log.SetFormat(logger.ParseFormat(*outputFormat))

	if *input == "" {
		log.Fatal("--input (media playlist URL) is required")
	}
	if *outPattern == "" {
		log.Fatal("--out (output template) is required")
	}

	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal("open log file: %v", err)
		}
		defer f.Close()
		log.SetFile(f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn("received %v, shutting down...", sig)
		cancel()
	}()

	splitBytes := int64(0)
	if *splitSize != "" && *splitSize != "0" {
		var err error
		splitBytes, err = units.ParseSize(*splitSize)
		if err != nil {
			log.Fatal("invalid --split-size: %v", err)
		}
	}

	cfg := sessionConfig{
		Input:            *input,
		Source:           *source,
		OutPattern:       *outPattern,
		IndexPath:        *indexPath,
		Cookies:          *cookies,
		UserAgent:        *userAgent,
		SplitTime:        durationVal(*splitTime, "STICKY_SPLIT_TIME", 0, log),
		SplitSize:        splitBytes,
		PollInterval:     durationVal(*pollInterval, "STICKY_POLL_INTERVAL", 0, log),
		StallTimeout:     durationVal(*stallTimeout, "STICKY_STALL_TIMEOUT", 30*time.Second, log),
		ProbeInterval:    durationVal(*probeInterval, "STICKY_PROBE_INTERVAL", time.Minute, log),
		ProbeTimeout:     durationVal(*probeTimeout, "STICKY_PROBE_TIMEOUT", probe.DefaultTimeout, log),
		MetadataInterval: durationVal(*metadataInterval, "STICKY_METADATA_INTERVAL", 0, log),
	}

	os.Exit(runSession(ctx, cfg, log))
}

type sessionConfig struct {
	Input      string
	Source     string
	OutPattern string
	IndexPath  string
	Cookies    string
	UserAgent  string

	SplitTime        time.Duration
	SplitSize        int64
	PollInterval     time.Duration
	StallTimeout     time.Duration
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	MetadataInterval time.Duration
}

// runSession wires the pipeline and drains it to completion:
//
//	source -> sampler -> splitter -> index -> analyser -> drain
//
// Returns an exit code.
func runSession(ctx context.Context, cfg sessionConfig, log *logger.Logger) int {
	sessionStart := time.Now()

	pathProvider, err := splitter.NewTemplatePathProvider(cfg.OutPattern, cfg.Source, sessionStart)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	prober := probe.NewProber(log)
	if cfg.ProbeTimeout > 0 {
		prober.Timeout = cfg.ProbeTimeout
	}
	sampler := probe.NewSampler(prober, cfg.ProbeInterval, log)
	index := playlist.New(cfg.IndexPath, log)

	fileCount := 0
	split := splitter.New(splitter.Config{
		PathProvider: pathProvider,
		Prober:       prober,
		OnFileOpened: func(path string, timestamp int64) {
			fileCount++
			index.FileOpened(path, timestamp)
			log.Event("FILE OPEN",
				kv("file", path),
				kv("timestamp", fmt.Sprintf("%d", timestamp)))
		},
		OnFileClosed: func(path string) {
			index.FileClosed(path)
			log.Event("FILE CLOSE", kv("file", path))
		},
		Log: log,
	})

	meta := analyser.New(index.Duration, split.Filesize)
	meta.Watch(sampler.Profiles())

	source := stream.NewSource(stream.SourceConfig{
		PlaylistURL:  cfg.Input,
		Cookies:      cfg.Cookies,
		UserAgent:    cfg.UserAgent,
		PollInterval: cfg.PollInterval,
		StallTimeout: cfg.StallTimeout,
		SplitTime:    cfg.SplitTime,
		SplitSize:    cfg.SplitSize,
		Log:          log,
	})

	log.Event("SESSION START",
		kv("input", cfg.Input),
		kv("source", cfg.Source))

	if cfg.MetadataInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.MetadataInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logMetadata(log, "METADATA", meta.Metadata())
				}
			}
		}()
	}

	out := meta.Pipe(ctx, index.Pipe(ctx, split.Pipe(ctx, sampler.Pipe(ctx, source.Run(ctx)))))

	exitCode := 0
	for pkt := range out {
		if pkt.Err != nil {
			log.Error("%v", pkt.Err)
			exitCode = 1
			continue
		}
		log.Debug("wrote %s seq=%d offset=%d size=%s",
			pkt.Item.Kind, chunkSeq(pkt.Item), pkt.Item.Offset,
			units.FormatSize(int64(len(pkt.Item.Payload))))
	}
	if ctx.Err() != nil {
		exitCode = 0
	}

	if err := index.Finalize(); err != nil {
		log.Warn("finalize index playlist: %v", err)
	}

	logMetadata(log, "SESSION END", meta.Metadata())
	log.Event("SESSION SUMMARY",
		kv("files", fmt.Sprintf("%d", fileCount)),
		kv("elapsed", units.FormatDuration(time.Since(sessionStart))))

	return exitCode
}

func logMetadata(log *logger.Logger, event string, md analyser.Metadata) {
	log.Event(event,
		kv("duration", units.FormatDuration(time.Duration(md.Duration*float64(time.Second)))),
		kv("filesize", units.FormatSize(md.Filesize)),
		kv("resolution", fmt.Sprintf("%dx%d", md.Width, md.Height)))
}

func chunkSeq(item stream.Item) uint64 {
	if item.Chunk == nil {
		return 0
	}
	return item.Chunk.Sequence
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// durationVal resolves a time.Duration from: CLI string (if non-empty) → ENV → default.
// Uses units.ParseDuration for flexible format support (hh:mm:ss, Go-style, plain minutes).
func durationVal(cliVal, envKey string, def time.Duration, log *logger.Logger) time.Duration {
	if cliVal != "" {
		d, err := units.ParseDuration(cliVal)
		if err != nil {
			log.Fatal("invalid duration for %s: %v", envKey, err)
		}
		return d
	}
	if v := os.Getenv(envKey); v != "" {
		d, err := units.ParseDuration(v)
		if err != nil {
			log.Fatal("invalid duration in %s: %v", envKey, err)
		}
		return d
	}
	return def
}
