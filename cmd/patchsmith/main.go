// Command patchsmith runs one change request through the pipeline: it reads
// the request and the current project files, streams progress to stderr, and
// writes the resulting file operations to an output directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"patchsmith/pkg/config"
	"patchsmith/pkg/events"
	"patchsmith/pkg/logx"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/pipeline"
	"patchsmith/pkg/proto"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "patchsmith: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		request        string
		requestFile    string
		filesDir       string
		outDir         string
		jsonOut        bool
		skipValidation bool
		maxIterations  int
		maxDebugCycles int
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config (defaults used when empty)")
	flag.StringVar(&request, "request", "", "the change request text")
	flag.StringVar(&requestFile, "request-file", "", "file containing the change request text")
	flag.StringVar(&filesDir, "files", "", "directory of current project files sent with the request")
	flag.StringVar(&outDir, "out", "patchsmith-out", "directory to write produced files into")
	flag.BoolVar(&jsonOut, "json", false, "print the full result as JSON to stdout")
	flag.BoolVar(&skipValidation, "skip-validation", false, "skip the validation/repair loop")
	flag.IntVar(&maxIterations, "max-iterations", 0, "override reflection iteration cap (0 = config)")
	flag.IntVar(&maxDebugCycles, "max-debug-cycles", 0, "override validation cycle cap (0 = config)")
	flag.Parse()

	message, err := resolveRequest(request, requestFile)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	currentFiles := map[string]string{}
	if filesDir != "" {
		currentFiles, err = loadFiles(filesDir)
		if err != nil {
			return err
		}
	}

	logger := logx.NewLogger("main")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped: %v", err)
			}
		}()
	}

	sink := consoleSink()
	if cfg.EventLogDir != "" {
		writer, err := events.NewWriter(cfg.EventLogDir)
		if err != nil {
			return err
		}
		defer writer.Close()
		console := sink
		sink = events.SinkFunc(func(ev events.Event) {
			console.Emit(ev)
			writer.Emit(ev)
		})
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := &proto.ChangeRequest{
		Message:      message,
		CurrentFiles: currentFiles,
		Options: proto.RunOptions{
			MaxIterations:  maxIterations,
			MaxDebugCycles: maxDebugCycles,
			SkipValidation: skipValidation,
		},
	}

	result := p.Run(ctx, req, sink)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}

	if !result.Success {
		if fe := result.FriendlyError; fe != nil {
			return fmt.Errorf("%s (%s)", fe.Message, fe.Suggestion)
		}
		return fmt.Errorf("%s", result.Error)
	}

	if err := writeOutputs(outDir, result.FileOperations); err != nil {
		return err
	}
	printSummary(result, outDir)
	return nil
}

func resolveRequest(request, requestFile string) (string, error) {
	switch {
	case request != "" && requestFile != "":
		return "", fmt.Errorf("use either -request or -request-file, not both")
	case request != "":
		return request, nil
	case requestFile != "":
		data, err := os.ReadFile(requestFile)
		if err != nil {
			return "", fmt.Errorf("failed to read request file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("a change request is required (-request or -request-file)")
	}
}

// loadFiles reads every regular file under dir, keyed by its relative path.
// Hidden directories are skipped.
func loadFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); strings.HasPrefix(name, ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read files dir %s: %w", dir, err)
	}
	return files, nil
}

func writeOutputs(dir string, ops []proto.FileOperation) error {
	for i := range ops {
		op := &ops[i]
		path := filepath.Join(dir, filepath.FromSlash(op.Filename))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create output dir for %s: %w", op.Filename, err)
		}
		if err := os.WriteFile(path, []byte(op.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", op.Filename, err)
		}
	}
	return nil
}

func printSummary(result *proto.Result, outDir string) {
	meta := &result.Metadata
	fmt.Printf("route: %s, operation: %s\n", meta.Route.Path, meta.Operation)
	for i := range result.FileOperations {
		op := &result.FileOperations[i]
		marker := " "
		if op.Validated {
			marker = "*"
		}
		fmt.Printf("  %s %-6s %s\n", marker, op.Type, op.Filename)
	}
	if meta.TestsRun {
		fmt.Printf("validation: passed=%v cycles=%d\n", meta.TestsPassed, meta.DebugCycles)
	}
	fmt.Printf("wrote %d file(s) to %s\n", len(result.FileOperations), outDir)
}

// consoleSink renders progress events to stderr, one line each.
func consoleSink() events.Sink {
	return events.SinkFunc(func(ev events.Event) {
		switch ev.Type {
		case events.TypeWarning:
			fmt.Fprintf(os.Stderr, "! %s\n", ev.Message)
		case events.TypeError:
			fmt.Fprintf(os.Stderr, "x %s\n", ev.Message)
		default:
			fmt.Fprintf(os.Stderr, "- %s\n", ev.Message)
		}
	})
}
