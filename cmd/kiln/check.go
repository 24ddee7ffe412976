package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/boyter/gocodewalker"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
)

// Check command errors.
var (
	ErrNoSourceFiles    = errors.New("no .kiln files found")
	ErrDiagnosticErrors = errors.New("source files contain errors")
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Run diagnostics over files or directories",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a kiln config file (default: nearest .kiln.yaml)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output diagnostics as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Action: runCheck,
	}
}

// fileReport holds the diagnostics for one checked file.
type fileReport struct {
	Path        string            `json:"path"`
	Diagnostics []kiln.Diagnostic `json:"diagnostics,omitempty"`
	Failures    []string          `json:"failures,omitempty"`
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		args = []string{"."}
	}

	files, err := collectSourceFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrNoSourceFiles
	}

	cfg, err := loadCheckConfig(cmd.String("config"), files[0])
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if cmd.Bool("verbose") {
		devCfg := zap.NewDevelopmentConfig()
		devCfg.OutputPaths = []string{"stderr"}
		devCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = devCfg.Build()
		if err != nil {
			return err
		}
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	reports := make([]fileReport, 0, len(files))

	var hasErrors bool
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolving path %s: %w", file, err)
		}

		resp, err := eng.QueryWait(ctx, kiln.Request{
			RequestID: "check-" + uuid.NewString(),
			Feature:   kiln.FeatureDiagnostics,
			Snapshot:  kiln.Latest(),
			Params:    kiln.QueryParams{URI: "file://" + abs},
			Class:     kiln.ClassBackground,
		})
		if err != nil {
			return fmt.Errorf("checking %s: %w", file, err)
		}

		for _, d := range resp.Result.Diagnostics {
			if d.Severity == kiln.SeverityError {
				hasErrors = true
			}
		}

		reports = append(reports, fileReport{
			Path:        file,
			Diagnostics: resp.Result.Diagnostics,
			Failures:    resp.Result.Failures,
		})
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		printReports(reports)
	}

	if cmd.Bool("verbose") {
		stats := eng.EngineStats()
		logger.Info("engine stats",
			zap.Uint64("revision", uint64(stats.Revision)),
			zap.Int("liveSnapshots", stats.LiveSnapshots),
			zap.Int("cacheEntries", stats.Cache.Size),
			zap.Int64("cacheHits", stats.Cache.Hits),
			zap.Int64("cacheMisses", stats.Cache.Misses))
	}

	if hasErrors {
		return ErrDiagnosticErrors
	}

	return nil
}

func loadCheckConfig(path, firstFile string) (*kiln.Config, error) {
	if path != "" {
		return kiln.LoadConfigFile(path)
	}

	cfg, err := kiln.LoadConfig(filepath.Dir(firstFile))
	if errors.Is(err, kiln.ErrConfigNotFound) {
		return &kiln.Config{}, nil
	}

	return cfg, err
}

func printReports(reports []fileReport) {
	tty := isatty.IsTerminal(os.Stdout.Fd())

	var total int
	for _, r := range reports {
		for _, d := range r.Diagnostics {
			total++
			fmt.Printf("%s:%d:%d: %s: %s\n",
				r.Path,
				d.Span.Start.Line+1, d.Span.Start.Column+1,
				d.Severity, d.Message)
		}
		for _, f := range r.Failures {
			fmt.Printf("%s: warning: import not analyzed: %s\n", r.Path, f)
		}
	}

	if tty {
		if total == 0 {
			fmt.Printf("ok\t%d files\n", len(reports))
		} else {
			fmt.Printf("%d issues in %d files\n", total, len(reports))
		}
	}
}

// collectSourceFiles expands files and directories into .kiln paths,
// respecting .gitignore inside directories.
func collectSourceFiles(args []string) ([]string, error) {
	seen := make(map[string]struct{})

	var files []string
	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			if strings.HasSuffix(arg, ".kiln") {
				add(arg)
			}

			continue
		}

		if err := walkSourceDir(arg, add); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)

	return files, nil
}

func walkSourceDir(root string, callback func(path string)) error {
	fileListQueue := make(chan *gocodewalker.File, 100)

	fileWalker := gocodewalker.NewFileWalker(root, fileListQueue)
	fileWalker.AllowListExtensions = []string{"kiln"}

	var walkErr error
	fileWalker.SetErrorHandler(func(e error) bool {
		walkErr = e

		return true
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range fileListQueue {
			callback(f.Location)
		}
	}()

	if err := fileWalker.Start(); err != nil {
		return err
	}

	wg.Wait()

	return walkErr
}
