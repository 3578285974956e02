package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/poller"
	"github.com/Lllllllleong/manifestflow/internal/schema"
	"github.com/Lllllllleong/manifestflow/internal/services"
	"github.com/Lllllllleong/manifestflow/internal/store"
	"github.com/Lllllllleong/manifestflow/internal/validation"
)

const defaultDBPath = "./ingest-db"

type runOptions struct {
	dbPath      string
	catalogPath string
	partition   string
	legalTags   string
	groupDomain string
}

// localDeps wires a local run. The job and its SRN mappings go to the Badger database.
// Files, conversion jobs and records use the project's services, because the
// conversion workflow writes the records it produces to Firestore.
var localDeps = func(ctx context.Context, cfg services.Config, opts runOptions, db *store.Badger) (ingest.Deps, func(), error) {
	if err := cfg.Require("ProjectID", "LandingBucket", "WorkflowLocation", "WorkflowID", "SchemaCollection"); err != nil {
		return ingest.Deps{}, nil, err
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
	if err != nil {
		return ingest.Deps{}, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	closers = append(closers, firestoreClient.Close)
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		closeAll()
		return ingest.Deps{}, nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	closers = append(closers, storageClient.Close)
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		closeAll()
		return ingest.Deps{}, nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	closers = append(closers, executionsClient.Close)

	var source schema.Source = schema.NewFirestoreProvider(firestoreClient, cfg.SchemaCollection)
	if opts.catalogPath != "" {
		if source, err = schema.LoadYAMLProvider(opts.catalogPath); err != nil {
			closeAll()
			return ingest.Deps{}, nil, err
		}
	}

	conversions := gcp.NewConversionJobs(executionsClient, gcp.ConversionConfig{
		ProjectID:        cfg.ProjectID,
		WorkflowLocation: cfg.WorkflowLocation,
		WorkflowID:       cfg.WorkflowID,
		LandingBucket:    cfg.LandingBucket,
	})
	return ingest.Deps{
		Schemas:   schema.NewCachingProvider(source),
		Uploader:  gcp.NewStorageUploader(storageClient, gcp.DefaultUploaderConfig(cfg.LandingBucket)),
		Submitter: conversions,
		Waiter:    poller.New(conversions, cfg.Poll),
		Records:   store.NewFirestoreRecords(firestoreClient),
		Mappings:  db.SrnMappings(),
		Validator: validation.NewJSONSchemaValidator(),
		Jobs:      db.Jobs(),
	}, closeAll, nil
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <manifest.json>",
		Short: "Ingest a manifest in-process and track the job in a local Badger database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manifest, err := readManifest(args[0])
			if err != nil {
				return err
			}
			violations, err := validation.NewManifestValidator(nil).Validate(manifest)
			if err != nil {
				return err
			}
			if len(violations) > 0 {
				return report(cmd.OutOrStdout(), violations)
			}

			headers := models.IngestHeaders{Partition: opts.partition, LegalTags: opts.legalTags}
			groups, err := services.StaticGroups{Domain: opts.groupDomain}.Groups(ctx, headers)
			if err != nil {
				return err
			}
			rc, err := models.NewRequestContext(headers, groups)
			if err != nil {
				return err
			}

			config, err := services.LoadConfig()
			if err != nil {
				return err
			}
			db, err := store.OpenBadger(store.DefaultBadgerConfig(opts.dbPath))
			if err != nil {
				return err
			}
			defer db.Close()
			deps, closeDeps, err := localDeps(ctx, config, opts, db)
			if err != nil {
				return err
			}
			defer closeDeps()

			orchestrator := ingest.NewOrchestrator(deps, config.Ingest)
			jobID, err := orchestrator.Submit(ctx, manifest, rc)
			if err != nil {
				return err
			}
			orchestrator.Wait()

			job, err := orchestrator.Status(ctx, jobID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), job); err != nil {
				return err
			}
			if job.Status != models.IngestJobComplete {
				return fmt.Errorf("ingest job %s finished %s", jobID, job.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", defaultDBPath, "Badger database directory for the job and SRN mappings")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "YAML schema catalog used instead of Firestore schemas")
	cmd.Flags().StringVar(&opts.partition, "partition", "", "data partition id")
	cmd.Flags().StringVar(&opts.legalTags, "legal-tags", "", `legal tags as JSON, e.g. {"legal":{"legaltags":["tag"]}}`)
	cmd.Flags().StringVar(&opts.groupDomain, "group-domain", gcp.GetEnv("GROUP_EMAIL_DOMAIN", ""), "domain of the owner and viewer group emails")
	_ = cmd.MarkFlagRequired("partition")
	_ = cmd.MarkFlagRequired("legal-tags")
	return cmd
}
