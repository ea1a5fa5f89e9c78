// Package store publishes built indices to optional external sinks.
// Every publish is keyed by a run id so a reader sees either the previous
// complete snapshot or the new one.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"diseaseindex/index"
)

//go:embed schema.sql
var Schema string

// ErrNoRun is returned by lookups when no snapshot has been published.
var ErrNoRun = errors.New("no published run")

// Postgres stores index snapshots in the index_runs, symptom_index and
// disease_index tables.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and verifies the connection.
func OpenPostgres(ctx context.Context, connStr string, maxConns int32) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	} else {
		poolConfig.MaxConns = 4
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Migrate creates the snapshot tables if they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Snapshot is one complete build ready to publish.
type Snapshot struct {
	RunID    uuid.UUID
	Records  int
	Symptoms index.SymptomIndex
	Diseases index.DiseaseIndex
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// Publish writes the snapshot in a single transaction.
func (p *Postgres) Publish(ctx context.Context, s Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	run := pgUUID(s.RunID)
	if _, err := tx.Exec(ctx,
		`INSERT INTO index_runs (run_id, records, symptoms, diseases) VALUES ($1, $2, $3, $4)`,
		run, s.Records, len(s.Symptoms), len(s.Diseases)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	var symRows [][]any
	for _, sym := range sortedKeys(s.Symptoms) {
		for pos, info := range s.Symptoms[sym] {
			symRows = append(symRows, []any{
				run, sym, pos, info.Disease, info.Text, info.SourceURL, info.Treatment,
				info.Contagious, info.Chronic,
			})
		}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"symptom_index"},
		[]string{"run_id", "symptom", "position", "disease", "text", "source_url", "treatment", "contagious", "chronic"},
		pgx.CopyFromRows(symRows)); err != nil {
		return fmt.Errorf("copy symptom_index: %w", err)
	}

	var disRows [][]any
	for _, name := range sortedKeys(s.Diseases) {
		e := s.Diseases[name]
		disRows = append(disRows, []any{
			run, name, nonNil(e.Symptoms), nonNil(e.Treatments), nonNil(e.Sources), e.Contagious, e.Chronic,
		})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"disease_index"},
		[]string{"run_id", "disease", "symptoms", "treatments", "sources", "contagious", "chronic"},
		pgx.CopyFromRows(disRows)); err != nil {
		return fmt.Errorf("copy disease_index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestRun returns the most recently published run id.
func (p *Postgres) LatestRun(ctx context.Context) (uuid.UUID, error) {
	var id pgtype.UUID
	err := p.pool.QueryRow(ctx,
		`SELECT run_id FROM index_runs ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNoRun
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("latest run: %w", err)
	}
	return uuid.UUID(id.Bytes), nil
}

// Symptom returns the entries for symptom in run order.
func (p *Postgres) Symptom(ctx context.Context, run uuid.UUID, symptom string) ([]index.DiseaseInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT disease, text, source_url, treatment, contagious, chronic
		   FROM symptom_index WHERE run_id = $1 AND symptom = $2 ORDER BY position`,
		pgUUID(run), symptom)
	if err != nil {
		return nil, fmt.Errorf("query symptom %q: %w", symptom, err)
	}
	defer rows.Close()

	var out []index.DiseaseInfo
	for rows.Next() {
		var d index.DiseaseInfo
		if err := rows.Scan(&d.Disease, &d.Text, &d.SourceURL, &d.Treatment, &d.Contagious, &d.Chronic); err != nil {
			return nil, fmt.Errorf("scan symptom row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Disease returns the attribute entry for disease. ok is false when the
// run has no such disease.
func (p *Postgres) Disease(ctx context.Context, run uuid.UUID, disease string) (e index.DiseaseEntry, ok bool, err error) {
	err = p.pool.QueryRow(ctx,
		`SELECT symptoms, treatments, sources, contagious, chronic
		   FROM disease_index WHERE run_id = $1 AND disease = $2`,
		pgUUID(run), disease).Scan(&e.Symptoms, &e.Treatments, &e.Sources, &e.Contagious, &e.Chronic)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("query disease %q: %w", disease, err)
	}
	e.Symptoms, e.Treatments, e.Sources = nonNil(e.Symptoms), nonNil(e.Treatments), nonNil(e.Sources)
	return e, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
