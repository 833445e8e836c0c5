package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/database"
	"chat-vectorsync/internal/logging"
	"chat-vectorsync/internal/models"
	"chat-vectorsync/internal/services"
	"chat-vectorsync/internal/vectorstore"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	sessionFlag := &cli.StringFlag{
		Name:    "session",
		Aliases: []string{"s"},
		Usage:   "Restrict to one session id",
	}

	batchFlags := []cli.Flag{
		sessionFlag,
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Number of messages per chunk (defaults to CHATSYNC_BATCH_CHUNK_SIZE)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum concurrent uploads per chunk",
		},
		&cli.IntFlag{
			Name:  "max-results",
			Usage: "Process at most N messages in this run",
		},
		&cli.BoolFlag{
			Name:  "no-guard",
			Usage: "Disable the max results guard",
		},
	}

	return &cli.App{
		Name:  "chatsync",
		Usage: "Keep chat history in sync with the vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log encoding (console, json)",
				Value: "console",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "generate-vectors",
				Usage:  "Embed and upload every message without a point id",
				Action: batchCommand(services.OperationGenerateVectors),
				Flags:  batchFlags,
			},
			{
				Name:   "upload",
				Usage:  "Upload messages to the vector store",
				Action: batchCommand(services.OperationUpload),
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Also re-upload messages that already have a point id",
					},
				}, batchFlags...),
			},
			{
				Name:   "stats",
				Usage:  "Report how many messages are linked to the vector store",
				Action: statsCommand,
				Flags:  []cli.Flag{sessionFlag},
			},
			{
				Name:   "export",
				Usage:  "Write conversations and messages to a backup document",
				Action: exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Path of the backup document",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "session",
						Usage: "Export only these sessions (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "include-vectors",
						Usage: "Embed vector store payloads in the document",
					},
				},
			},
			{
				Name:   "import",
				Usage:  "Merge a backup document into the database",
				Action: importCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Path of the backup document",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "Replace records that already exist",
					},
					&cli.BoolFlag{
						Name:  "no-validate",
						Usage: "Skip record validation before import",
					},
				},
			},
			{
				Name:   "migrate-session",
				Usage:  "Move all conversations and messages to a new session id",
				Action: migrateSessionCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "Current session id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "to",
						Usage:    "New session id",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "skip-vectors",
						Usage: "Leave vector store payloads untouched",
					},
				},
			},
			{
				Name:   "runs",
				Usage:  "List recent export, import and session migration runs",
				Action: runsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "operation",
						Usage: "Filter by operation (export, import, migrate_session)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs",
						Value: 20,
					},
				},
			},
		},
	}
}

// environment holds what a command needs, opened lazily so flag errors
// surface before any connection is made
type environment struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	vectors services.VectorService
	store   *vectorstore.QdrantStore
}

func openEnvironment(c *cli.Context, withVectors bool) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = c.String("log-level")
	cfg.Logging.Format = c.String("log-format")
	cfg.Logging.Output = "stderr"

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, log: logger, db: db}
	if withVectors && cfg.Vector.Enabled {
		embedder, err := vectorstore.NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			env.close()
			return nil, err
		}
		store, err := vectorstore.NewQdrantStore(cfg.Vector, embedder, logger)
		if err != nil {
			env.close()
			return nil, err
		}
		env.store = store
		env.vectors = store
		if err := store.EnsureCollection(c.Context); err != nil {
			env.close()
			return nil, err
		}
	}
	return env, nil
}

func (e *environment) close() {
	if e.store != nil {
		e.store.Close()
	}
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
	e.log.Sync()
}

// signalContext cancels on SIGINT or SIGTERM so long runs stop between chunks
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// batchRequestFromFlags maps command flags onto a batch request
func batchRequestFromFlags(c *cli.Context, operation string) services.BatchRequest {
	req := services.BatchRequest{
		Operation:      operation,
		SessionID:      c.String("session"),
		MissingOnly:    operation == services.OperationGenerateVectors || !c.Bool("all"),
		BatchSize:      c.Int("batch-size"),
		MaxConcurrency: c.Int("concurrency"),
		DisableGuard:   c.Bool("no-guard"),
		BatchID:        uuid.New().String(),
	}
	if c.IsSet("max-results") {
		guard := c.Int("max-results")
		req.MaxResultsGuard = &guard
	}
	return req
}

func batchCommand(operation string) cli.ActionFunc {
	return func(c *cli.Context) error {
		req := batchRequestFromFlags(c, operation)

		env, err := openEnvironment(c, true)
		if err != nil {
			return err
		}
		defer env.close()

		ctx, cancel := signalContext(c.Context)
		defer cancel()

		processor := services.NewBatchProcessor(env.db, env.vectors, env.cfg.Batch, nil, env.log)
		req.OnProgress = func(p models.BatchProcessingProgress) {
			env.log.Info("Batch progress",
				zap.Int("batch", p.CurrentBatch),
				zap.Int("total_batches", p.TotalBatches),
				zap.Int("processed", p.ProcessedItems),
				zap.Int("total", p.TotalItems),
				zap.Float64("percent", p.PercentComplete()),
			)
		}

		result, err := processor.Run(ctx, req)
		if result != nil {
			if printErr := printJSON(c.App.Writer, result); printErr != nil {
				return printErr
			}
		}
		return err
	}
}

func statsCommand(c *cli.Context) error {
	env, err := openEnvironment(c, false)
	if err != nil {
		return err
	}
	defer env.close()

	processor := services.NewBatchProcessor(env.db, nil, env.cfg.Batch, nil, env.log)
	stats, err := processor.Stats(c.Context, c.String("session"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, stats)
}

func exportCommand(c *cli.Context) error {
	includeVectors := c.Bool("include-vectors")

	env, err := openEnvironment(c, includeVectors)
	if err != nil {
		return err
	}
	defer env.close()

	migration := services.NewMigrationService(env.db, env.vectors, env.cfg.Migration, env.log)
	result, err := migration.ExportData(c.Context, services.ExportRequest{
		OutputPath:     c.String("output"),
		SessionIDs:     c.StringSlice("session"),
		IncludeVectors: includeVectors,
	})
	return printResult(c, result, err)
}

func importCommand(c *cli.Context) error {
	env, err := openEnvironment(c, true)
	if err != nil {
		return err
	}
	defer env.close()

	migration := services.NewMigrationService(env.db, env.vectors, env.cfg.Migration, env.log)
	result, err := migration.ImportData(c.Context, services.ImportRequest{
		InputPath:         c.String("input"),
		OverwriteExisting: c.Bool("overwrite"),
		Validate:          !c.Bool("no-validate"),
	})
	return printResult(c, result, err)
}

func migrateSessionCommand(c *cli.Context) error {
	updateVectors := !c.Bool("skip-vectors")

	env, err := openEnvironment(c, updateVectors)
	if err != nil {
		return err
	}
	defer env.close()

	migration := services.NewMigrationService(env.db, env.vectors, env.cfg.Migration, env.log)
	result, err := migration.MigrateSession(c.Context, services.SessionMigrationRequest{
		OldSessionID:      c.String("from"),
		NewSessionID:      c.String("to"),
		UpdateVectorStore: updateVectors,
	})
	return printResult(c, result, err)
}

func runsCommand(c *cli.Context) error {
	env, err := openEnvironment(c, false)
	if err != nil {
		return err
	}
	defer env.close()

	migration := services.NewMigrationService(env.db, nil, env.cfg.Migration, env.log)
	runs, err := migration.ListRuns(c.Context, c.String("operation"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, runs)
}

func printResult(c *cli.Context, result *models.MigrationResult, err error) error {
	if result != nil {
		if printErr := printJSON(c.App.Writer, result); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if result != nil && !result.Success {
		return cli.Exit("operation finished with errors", 2)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
