// Package pipeline runs one reconciliation: adapt every configured source,
// build the backfill map from the reference source, merge, index, and
// publish the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"diseaseindex/adapter"
	"diseaseindex/backfill"
	"diseaseindex/config"
	"diseaseindex/csvio"
	"diseaseindex/index"
	"diseaseindex/logger"
	"diseaseindex/merge"
	"diseaseindex/ner"
	"diseaseindex/output"
	"diseaseindex/schema"
	"diseaseindex/store"
)

// ErrNoInput is returned when every configured source file is missing.
var ErrNoInput = errors.New("no source files found")

// Publisher receives a finished snapshot. store.Postgres and store.Redis
// implement it.
type Publisher interface {
	Publish(ctx context.Context, s store.Snapshot) error
}

// Deps are the collaborators a run uses. Nil fields are optional except
// Log, which defaults to a no-op logger.
type Deps struct {
	Log *logger.Logger
	// Extractor serves "reports" sources. When nil one is built from the
	// NER config.
	Extractor  adapter.Extractor
	Publishers []Publisher
}

// SourceReport describes one configured source.
type SourceReport struct {
	Name    string
	Path    string
	Format  string
	Missing bool
	Stats   adapter.Stats
}

// Report summarizes a run.
type Report struct {
	RunID          uuid.UUID
	Sources        []SourceReport
	SourcesUsed    []string
	SourcesMissing []string
	Adapter        adapter.Stats
	BackfillSize   int
	Merge          merge.Stats
	Index          index.Stats
	Symptoms       int
	Diseases       int
	Outputs        []string
	Duration       time.Duration
}

// Result is the product of a run.
type Result struct {
	Records  []schema.Record
	Symptoms index.SymptomIndex
	Diseases index.DiseaseIndex
	Report   Report
}

// Run executes every stage and publishes only after all of them
// succeeded. Configuration errors abort the run before anything is
// written. Output files are staged, moved into place together, and the
// previous run's files are restored when a publisher fails.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	start := time.Now()
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	rep := Report{RunID: uuid.New()}
	log = log.With("run_id", rep.RunID.String())

	extractor := deps.Extractor
	if extractor == nil && needsExtractor(cfg) {
		var err error
		if extractor, err = NewExtractor(cfg.NER); err != nil {
			return nil, err
		}
	}

	tables, err := loadSources(ctx, cfg, extractor, &rep)
	if err != nil {
		return nil, err
	}
	for _, s := range rep.Sources {
		if s.Missing {
			log.Warn("source file missing, excluded", "source", s.Name, "path", s.Path)
			continue
		}
		log.Info("adapted source", "source", s.Name, "format", s.Format,
			"rows", s.Stats.Rows, "skipped_rows", s.Stats.SkippedRows,
			"malformed_bools", s.Stats.MalformedBools)
		if s.Stats.ExtractFailures > 0 {
			log.Warn("symptom extraction failed for some reports", "source", s.Name, "failures", s.Stats.ExtractFailures)
		}
	}
	if len(rep.SourcesUsed) == 0 {
		return nil, ErrNoInput
	}

	var reference []schema.Record
	if cfg.Reference != "" {
		found := false
		for i, s := range cfg.Sources {
			if s.Name == cfg.Reference && !rep.Sources[i].Missing {
				reference, found = tables[i], true
			}
		}
		if !found {
			log.Warn("reference source unavailable, backfill disabled", "reference", cfg.Reference)
		}
	}
	attrs := backfill.Build(reference)
	rep.BackfillSize = attrs.Len()

	var used [][]schema.Record
	for i := range cfg.Sources {
		if !rep.Sources[i].Missing {
			used = append(used, tables[i])
		}
	}
	merged, mst := merge.Merge(used, attrs)
	rep.Merge = mst
	log.Info("merged sources",
		"input_rows", mst.InputRows, "output_rows", mst.OutputRows,
		"duplicates_removed", mst.DuplicatesRemoved, "dropped_empty_name", mst.DroppedEmptyName,
		"backfilled_contagious", mst.BackfillContagious, "backfilled_chronic", mst.BackfillChronic,
		"backfilled_treatments", mst.BackfillTreatments)

	sym, dis, ist, err := index.BuildSharded(ctx, merged, cfg.Index.Shards)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	rep.Index = ist
	rep.Symptoms, rep.Diseases = len(sym), len(dis)
	log.Info("built indices", "symptoms", len(sym), "diseases", len(dis),
		"pairs", ist.Pairs, "attribute_conflicts", ist.AttributeConflicts)

	res := &Result{Records: merged, Symptoms: sym, Diseases: dis}

	files, err := stageFiles(cfg.Output, res)
	if err != nil {
		return nil, err
	}
	if err := files.Commit(); err != nil {
		return nil, err
	}
	outputs := files.Paths()
	rep.Outputs = outputs

	snap := store.Snapshot{RunID: rep.RunID, Records: len(merged), Symptoms: sym, Diseases: dis}
	for _, p := range deps.Publishers {
		if err := p.Publish(ctx, snap); err != nil {
			if rbErr := files.Rollback(); rbErr != nil {
				log.Error("restoring previous outputs failed", "error", rbErr)
			}
			return nil, fmt.Errorf("publish snapshot: %w", err)
		}
	}
	files.Finalize()

	rep.Duration = time.Since(start)
	res.Report = rep
	log.Info("run complete", "outputs", len(outputs), "duration", rep.Duration)
	return res, nil
}

func needsExtractor(cfg *config.Config) bool {
	for _, s := range cfg.Sources {
		if s.Format == config.FormatReports {
			return true
		}
	}
	return false
}

// NewExtractor builds the symptom extractor for report sources: the HTTP
// client when an endpoint is configured, else a dictionary matcher over
// the configured vocabulary.
func NewExtractor(c config.NERConfig) (adapter.Extractor, error) {
	if c.Endpoint != "" {
		opts := []ner.Option{ner.WithRetries(c.Retries, time.Second)}
		if c.TokenEnv != "" {
			opts = append(opts, ner.WithToken(os.Getenv(c.TokenEnv)))
		}
		if c.EntityGroup != "" {
			opts = append(opts, ner.WithEntityGroup(c.EntityGroup))
		}
		return ner.NewHTTPClient(c.Endpoint, c.Timeout, opts...), nil
	}
	if len(c.Vocabulary) > 0 {
		return ner.NewStatic(c.Vocabulary...), nil
	}
	return nil, errors.New("reports source configured without ner endpoint or vocabulary")
}

// loadSources reads and adapts every source concurrently. tables is
// indexed like cfg.Sources; missing sources leave a nil entry.
func loadSources(ctx context.Context, cfg *config.Config, ex adapter.Extractor, rep *Report) ([][]schema.Record, error) {
	n := len(cfg.Sources)
	tables := make([][]schema.Record, n)
	rep.Sources = make([]SourceReport, n)

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range cfg.Sources {
		rep.Sources[i] = SourceReport{Name: sc.Name, Path: sc.Path, Format: sc.Format}
		g.Go(func() error {
			if _, err := os.Stat(sc.Path); errors.Is(err, os.ErrNotExist) {
				rep.Sources[i].Missing = true
				return nil
			}
			raw, err := csvio.ReadFile(sc.Path)
			if err != nil {
				return fmt.Errorf("source %q: %w", sc.Name, err)
			}
			recs, st, err := adaptSource(gctx, cfg, sc, raw, ex)
			if err != nil {
				return err
			}
			tables[i] = recs
			rep.Sources[i].Stats = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, s := range rep.Sources {
		if s.Missing {
			rep.SourcesMissing = append(rep.SourcesMissing, s.Name)
			continue
		}
		rep.SourcesUsed = append(rep.SourcesUsed, s.Name)
		rep.Adapter.Add(rep.Sources[i].Stats)
	}
	return tables, nil
}

func adaptSource(ctx context.Context, cfg *config.Config, sc config.SourceConfig, raw *csvio.RawTable, ex adapter.Extractor) ([]schema.Record, adapter.Stats, error) {
	src := adapter.Source{
		Name:        sc.Name,
		Rename:      sc.Rename,
		Defaults:    sc.Defaults,
		MultiValued: sc.MultiValued,
	}
	opts := adapter.Options{Workers: cfg.Index.Workers}
	switch sc.Format {
	case config.FormatBinary:
		return adapter.AdaptBinaryMatrix(raw, src, opts)
	case config.FormatReports:
		opts.Workers = cfg.NER.Concurrency
		return adapter.AdaptReports(ctx, raw, src, ex, opts)
	default:
		return adapter.Adapt(raw, src, opts)
	}
}

// stageFiles writes every configured artifact to a temp file. Nothing is
// visible at the destination paths until the batch is committed.
func stageFiles(oc config.OutputConfig, res *Result) (*output.Batch, error) {
	b := output.NewBatch()
	stage := func(name string, fn func(w io.Writer) error) error {
		if name == "" {
			return nil
		}
		path := filepath.Join(oc.Dir, name)
		if err := b.Stage(path, fn); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}

	steps := []struct {
		name string
		fn   func(w io.Writer) error
	}{
		{oc.CanonicalCSV, func(w io.Writer) error { return output.EncodeCanonicalCSV(w, res.Records) }},
		{oc.Parquet, func(w io.Writer) error { return output.EncodeCanonicalParquet(w, res.Records) }},
		{oc.SymptomIndex, func(w io.Writer) error { return output.EncodeJSON(w, res.Symptoms) }},
		{oc.DiseaseIndex, func(w io.Writer) error { return output.EncodeJSON(w, res.Diseases) }},
	}
	for _, st := range steps {
		if err := stage(st.name, st.fn); err != nil {
			_ = b.Rollback()
			return nil, err
		}
	}
	return b, nil
}
