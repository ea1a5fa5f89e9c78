package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"diseaseindex/config"
	"diseaseindex/logger"
	"diseaseindex/pipeline"
	"diseaseindex/schema"
	"diseaseindex/store"
)

func main() {
	configPath := flag.String("config", "", "YAML run configuration")
	outDir := flag.String("out", "", "Output directory (overrides output.dir)")
	pgConn := flag.String("pg", "", "PostgreSQL connection string (overrides postgres.url)")
	redisAddr := flag.String("redis", "", "Redis address (overrides redis.addr)")
	logMode := flag.String("log", "", "Log mode: development or production (overrides log.mode)")
	symptom := flag.String("symptom", "", "Look up a symptom in the latest published snapshot instead of running")
	disease := flag.String("disease", "", "Look up a disease in the latest published snapshot instead of running")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  Run:    reconcile -config reconcile.yaml [-out final/] [-pg 'postgres://...'] [-redis host:6379]\n")
		fmt.Fprintf(os.Stderr, "  Lookup: reconcile -config reconcile.yaml -symptom fever | -disease flu\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *pgConn != "" {
		cfg.Postgres.URL = *pgConn
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *logMode != "" {
		cfg.Log.Mode = *logMode
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *symptom != "" || *disease != "" {
		err = lookup(ctx, cfg, *symptom, *disease)
	} else {
		err = run(ctx, cfg, log)
	}
	if err != nil {
		log.Error("reconcile failed", "error", err)
		stop()
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	deps := pipeline.Deps{Log: log}

	if cfg.Postgres.URL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		deps.Publishers = append(deps.Publishers, pg)
	}
	if cfg.Redis.Addr != "" {
		rd, err := store.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Prefix, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer rd.Close()
		deps.Publishers = append(deps.Publishers, rd)
	}

	res, err := pipeline.Run(ctx, cfg, deps)
	if err != nil {
		return err
	}
	printReport(res.Report)
	return nil
}

func printReport(r pipeline.Report) {
	fmt.Printf("Run:       %s\n", r.RunID)
	fmt.Printf("Sources:   %d used, %d missing\n", len(r.SourcesUsed), len(r.SourcesMissing))
	for _, s := range r.Sources {
		if s.Missing {
			fmt.Printf("  %-14s MISSING  %s\n", s.Name, s.Path)
			continue
		}
		fmt.Printf("  %-14s %-8s %d rows", s.Name, s.Format, s.Stats.Rows)
		if s.Stats.SkippedRows > 0 {
			fmt.Printf(", %d skipped", s.Stats.SkippedRows)
		}
		if s.Stats.MalformedBools > 0 {
			fmt.Printf(", %d malformed booleans", s.Stats.MalformedBools)
		}
		if s.Stats.DroppedNoSymptoms > 0 {
			fmt.Printf(", %d without symptoms", s.Stats.DroppedNoSymptoms)
		}
		if s.Stats.ExtractFailures > 0 {
			fmt.Printf(", %d extraction failures", s.Stats.ExtractFailures)
		}
		fmt.Println()
	}
	fmt.Printf("Backfill:  %d reference diseases\n", r.BackfillSize)
	fmt.Printf("Merged:    %d → %d rows (%d duplicates, %d without name)\n",
		r.Merge.InputRows, r.Merge.OutputRows, r.Merge.DuplicatesRemoved, r.Merge.DroppedEmptyName)
	fmt.Printf("Filled:    contagious %d, chronic %d, treatments %d\n",
		r.Merge.BackfillContagious, r.Merge.BackfillChronic, r.Merge.BackfillTreatments)
	fmt.Printf("Indexed:   %d symptoms, %d diseases, %d pairs, %d attribute conflicts\n",
		r.Symptoms, r.Diseases, r.Index.Pairs, r.Index.AttributeConflicts)
	for _, o := range r.Outputs {
		fmt.Printf("Wrote:     %s\n", o)
	}
	fmt.Printf("Time:      %s\n", r.Duration.Round(time.Millisecond))
}

// lookup reads from Redis when configured, else from the latest Postgres
// run.
func lookup(ctx context.Context, cfg *config.Config, symptom, disease string) error {
	var v any
	var found bool
	symptom = strings.ToLower(strings.TrimSpace(symptom))
	disease = schema.NormalizeName(disease)

	switch {
	case cfg.Redis.Addr != "":
		rd, err := store.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Prefix, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer rd.Close()
		if symptom != "" {
			entries, err := rd.Symptom(ctx, symptom)
			if err != nil {
				return err
			}
			v, found = entries, len(entries) > 0
		} else {
			v, found, err = rd.Disease(ctx, disease)
			if err != nil {
				return err
			}
		}
	case cfg.Postgres.URL != "":
		pg, err := store.OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer pg.Close()
		run, err := pg.LatestRun(ctx)
		if err != nil {
			return err
		}
		if symptom != "" {
			entries, err := pg.Symptom(ctx, run, symptom)
			if err != nil {
				return err
			}
			v, found = entries, len(entries) > 0
		} else {
			v, found, err = pg.Disease(ctx, run, disease)
			if err != nil {
				return err
			}
		}
	default:
		return errors.New("lookup needs redis.addr or postgres.url")
	}

	if !found {
		return fmt.Errorf("not found: %s%s", symptom, disease)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
