package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/schema"
	"github.com/Lllllllleong/manifestflow/internal/srn"
	"github.com/Lllllllleong/manifestflow/internal/store"
	"github.com/Lllllllleong/manifestflow/internal/validation"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Validate and run manifests, inspect SRNs and ingest jobs",
		SilenceUsage: true,
	}
	root.AddCommand(newValidateCmd(), newRunCmd(), newSrnCmd(), newStatusCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "validate <manifest.json>",
		Short: "Check a manifest offline, optionally against a schema catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := readManifest(args[0])
			if err != nil {
				return err
			}
			violations, err := validation.NewManifestValidator(nil).Validate(manifest)
			if err != nil {
				return err
			}
			if catalogPath != "" && len(violations) == 0 {
				provider, err := schema.LoadYAMLProvider(catalogPath)
				if err != nil {
					return err
				}
				violations = append(violations, unknownTypes(cmd.Context(), provider, manifest)...)
			}
			return report(cmd.OutOrStdout(), violations)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML schema catalog every resource type must resolve in")
	return cmd
}

func readManifest(path string) (*models.LoadManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	// accept both a bare manifest and a submit request body
	var req struct {
		Manifest *models.LoadManifest `json:"manifest"`
	}
	if err := json.Unmarshal(data, &req); err == nil && req.Manifest != nil {
		return req.Manifest, nil
	}
	var m models.LoadManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func unknownTypes(ctx context.Context, provider ingest.SchemaProvider, m *models.LoadManifest) []string {
	typeIDs := []string{m.WorkProduct.ResourceTypeID}
	for _, c := range m.WorkProductComponents {
		typeIDs = append(typeIDs, c.ResourceTypeID)
	}
	for _, f := range m.Files {
		typeIDs = append(typeIDs, f.ResourceTypeID)
	}

	var out []string
	seen := make(map[string]bool)
	for _, id := range typeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := provider.Get(ctx, id); err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

func report(w io.Writer, violations []string) error {
	if len(violations) == 0 {
		fmt.Fprintln(w, "manifest is valid")
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(w, "-", v)
	}
	return fmt.Errorf("manifest has %d violation(s)", len(violations))
}

func newSrnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "srn",
		Short: "Allocate or decode SRNs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new <resourceTypeId>",
		Short: "Allocate a fresh SRN for a resource type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := srn.Allocate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}, &cobra.Command{
		Use:   "parse <srn>",
		Short: "Decode an SRN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := srn.Parse(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"type":       s.Type,
				"id":         s.ID,
				"version":    s.Version,
				"documentId": srn.DocumentID(args[0]),
			})
		},
	})
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		backend   string
		dbPath    string
		projectID string
		database  string
	)
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show an ingest job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var jobs ingest.JobStore
			switch backend {
			case "badger":
				db, err := store.OpenBadger(store.DefaultBadgerConfig(dbPath))
				if err != nil {
					return err
				}
				defer db.Close()
				jobs = db.Jobs()
			case "firestore":
				client, err := gcp.NewFirestoreClient(ctx, projectID, database)
				if err != nil {
					return err
				}
				defer client.Close()
				jobs = store.NewFirestoreJobs(client)
			default:
				return fmt.Errorf("unknown store %q, want badger or firestore", backend)
			}

			job, err := jobs.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&backend, "store", "badger", "job store: badger (local runs) or firestore")
	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "Badger database directory written by run")
	cmd.Flags().StringVar(&projectID, "project", gcp.GetEnv("PROJECT_ID", ""), "GCP project for the firestore store")
	cmd.Flags().StringVar(&database, "database", gcp.GetEnv("FIRESTORE_DATABASE", ""), "Firestore database id")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
