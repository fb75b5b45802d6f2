// Command import loads items from a CSV file or an s3://bucket/key object
// into the item store and prints a JSON report.
//
//	import [--batch-size N] [--drop-existing] <source>
//
// Store and object storage settings come from the same APP_* environment
// as the server. Exit status is 0 on success, 2 when the run stopped after
// writing part of the data and 1 for any other failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/config"
	"github.com/vyrodovalexey/mongo-items-api/internal/importer"
	"github.com/vyrodovalexey/mongo-items-api/internal/logging"
	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitIncomplete = 2
)

// envPrefix scopes the flag environment variables, e.g. IMPORT_BATCH_SIZE.
const envPrefix = "IMPORT"

var errMissingSource = errors.New("missing source: pass a CSV path or s3://bucket/key")

type options struct {
	conf.Version
	BatchSize    int  `conf:"default:100,help:valid rows written per bulk insert"`
	DropExisting bool `conf:"default:false,help:delete every item before importing"`
	Args         conf.Args
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	opts, help, err := parseOptions()
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Fprintln(stdout, help)
			return exitOK
		}
		fmt.Fprintf(stderr, "import: %v\n", err)
		return exitFailure
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "import: failed to load configuration: %v\n", err)
		return exitFailure
	}

	// stdout is reserved for the report.
	zcfg := logging.Config(cfg.LogLevel)
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(stderr, "import: failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	report, err := runImport(ctx, cfg, opts, logger)
	if report != nil {
		if encErr := writeReport(stdout, report); encErr != nil {
			logger.Error("failed to write report", zap.Error(encErr))
		}
	}

	return exitCode(err)
}

func parseOptions() (options, string, error) {
	var opts options
	opts.Version.Desc = "Import items from CSV"

	help, err := conf.Parse(envPrefix, &opts)
	if err != nil {
		return options{}, help, err
	}

	if opts.Args.Num(0) == "" {
		return options{}, "", errMissingSource
	}

	// Zero selects the default only for a zero Options value, never from flags.
	if opts.BatchSize < 1 {
		return options{}, "", fmt.Errorf("--batch-size: %w: got %d", importer.ErrInvalidBatchSize, opts.BatchSize)
	}

	return opts, "", nil
}

// runImport connects to the store and runs one import. A nil report means
// the run never started.
func runImport(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) (*importer.Report, error) {
	src, err := importer.ParseSource(opts.Args.Num(0), importer.ObjectConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
	}

	docs, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := docs.Close(context.Background()); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	im, err := importer.New(repository.New(docs, logger), importer.Options{
		BatchSize:    opts.BatchSize,
		DropExisting: opts.DropExisting,
	}, logger)
	if err != nil {
		return nil, err
	}

	return im.Run(ctx, src)
}

func writeReport(w io.Writer, report *importer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, model.ErrIncompleteImport):
		return exitIncomplete
	default:
		return exitFailure
	}
}
