package bqstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// BigQueryConfig holds configuration for the warehouse client.
type BigQueryConfig struct {
	ProjectID       string
	DatasetID       string
	CredentialsFile string // Optional: for production if not using ADC
}

// NewProductionBigQueryClient creates a BigQuery client suitable for
// production. The client is process-lifetime and shared across
// invocations; its lifecycle is owned by the caller.
func NewProductionBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create BigQuery client")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// RowError describes a row-level failure reported by a stream insert.
type RowError struct {
	RowIndex int
	Detail   string
}

// TableWriter abstracts the destination warehouse: an existence check, a
// schema-autodetecting bulk loader, and a streaming row inserter.
type TableWriter interface {
	// TableExists reports whether the destination table is present.
	// Absence is not an error; it is the auto-provisioning trigger.
	TableExists(ctx context.Context, tableID string) (bool, error)
	// LoadAutoSchema submits an append-mode load job with schema
	// autodetection and blocks until it completes. On success the table
	// exists and already contains rows.
	LoadAutoSchema(ctx context.Context, tableID string, rows []types.TableRow) error
	// StreamInsert streams rows into an existing table. Row-level
	// failures come back in the first return value; the error is reserved
	// for transport-level failures.
	StreamInsert(ctx context.Context, tableID string, rows []types.TableRow) ([]RowError, error)
}

// BigQueryTableWriter implements TableWriter over a shared BigQuery
// client and a single destination dataset.
type BigQueryTableWriter struct {
	client    *bigquery.Client
	datasetID string
	logger    zerolog.Logger
}

// NewBigQueryTableWriter creates a writer for the configured dataset.
func NewBigQueryTableWriter(client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryTableWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryConfig cannot be nil")
	}
	return &BigQueryTableWriter{
		client:    client,
		datasetID: cfg.DatasetID,
		logger:    logger.With().Str("component", "BigQueryTableWriter").Str("dataset_id", cfg.DatasetID).Logger(),
	}, nil
}

// TableExists checks table metadata, mapping notFound onto (false, nil).
func (w *BigQueryTableWriter) TableExists(ctx context.Context, tableID string) (bool, error) {
	_, err := w.client.Dataset(w.datasetID).Table(tableID).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return false, nil
	}
	if strings.Contains(err.Error(), "notFound") {
		return false, nil
	}
	return false, fmt.Errorf("table metadata check for %s.%s: %w", w.datasetID, tableID, err)
}

// LoadAutoSchema serializes rows as newline-delimited JSON and runs a
// blocking autodetect load job in append mode. Creation doubles as the
// first write.
func (w *BigQueryTableWriter) LoadAutoSchema(ctx context.Context, tableID string, rows []types.TableRow) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding row for load job: %w", err)
		}
	}

	source := bigquery.NewReaderSource(&buf)
	source.SourceFormat = bigquery.JSON
	source.AutoDetect = true

	loader := w.client.Dataset(w.datasetID).Table(tableID).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("starting load job for %s.%s: %w", w.datasetID, tableID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for load job for %s.%s: %w", w.datasetID, tableID, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job for %s.%s failed: %w", w.datasetID, tableID, err)
	}

	w.logger.Info().Str("table_id", tableID).Int("row_count", len(rows)).Msg("Created table via autodetect load job.")
	return nil
}

// StreamInsert puts rows through the streaming inserter, unwrapping
// bigquery.PutMultiError into row-level errors.
func (w *BigQueryTableWriter) StreamInsert(ctx context.Context, tableID string, rows []types.TableRow) ([]RowError, error) {
	savers := make([]bigquery.ValueSaver, len(rows))
	for i, row := range rows {
		savers[i] = row
	}

	err := w.client.Dataset(w.datasetID).Table(tableID).Inserter().Put(ctx, savers)
	if err == nil {
		w.logger.Info().Str("table_id", tableID).Int("row_count", len(rows)).Msg("Successfully inserted rows.")
		return nil, nil
	}

	var multiErr bigquery.PutMultiError
	if errors.As(err, &multiErr) {
		rowErrs := make([]RowError, 0, len(multiErr))
		for _, rowErr := range multiErr {
			w.logger.Error().Str("table_id", tableID).Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			rowErrs = append(rowErrs, RowError{RowIndex: rowErr.RowIndex, Detail: rowErr.Error()})
		}
		return rowErrs, nil
	}

	return nil, fmt.Errorf("bigquery Inserter.Put for %s.%s: %w", w.datasetID, tableID, err)
}
