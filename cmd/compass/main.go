// Command compass runs the extraction pipeline and the recommender offline.
//
//	compass [-config file] [-sqlite path] <command> [flags]
//
// Commands: ingest, extract, rules, relate, repair, migrate, recommend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/compass/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/internal/db"
	"github.com/OFFIS-RIT/compass/backend/internal/storage"
	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/compass/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/compass/backend/pkg/rank"
)

var errUsage = errors.New("usage: compass [-config file] [-sqlite path] <ingest|extract|rules|relate|repair|migrate|recommend> [flags]")

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg *config.Config
	out io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("compass", flag.ContinueOnError)
	configPath := global.String("config", "compass.toml", "path to the TOML configuration file")
	sqlitePath := global.String("sqlite", "", "use the embedded store at this path")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *sqlitePath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = *sqlitePath
	}
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "compass",
		Output: os.Stderr,
	}))

	a := &app{cfg: cfg, out: out}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "ingest":
		return a.ingest(ctx, cmdArgs)
	case "extract":
		return a.extract(ctx, cmdArgs, false)
	case "rules":
		return a.extract(ctx, cmdArgs, true)
	case "relate":
		return a.relate(ctx, cmdArgs)
	case "repair":
		return a.repair(ctx, cmdArgs)
	case "migrate":
		return a.migrate(cmdArgs)
	case "recommend":
		return a.recommend(ctx, cmdArgs)
	}
	return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
}

// withPipeline opens the store and runs fn against a pipeline. The model
// client is only built when needed.
func (a *app) withPipeline(ctx context.Context, needModel bool, fn func(*pipeline.Pipeline) (any, error)) error {
	st, err := bootstrap.Store(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var client ai.Client
	if needModel {
		client, err = bootstrap.AIClient(a.cfg.AI)
		if err != nil {
			return err
		}
	}
	p, err := bootstrap.Pipeline(a.cfg, st, client)
	if err != nil {
		return err
	}
	res, err := fn(p)
	if err != nil {
		return err
	}
	if client != nil {
		m := client.GetMetrics()
		logger.Info("AI Metrics", "input_tokens", m.InputTokens, "output_tokens", m.OutputTokens, "total_tokens", m.TotalTokens)
	}
	return a.print(res)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	agency := fs.String("agency", "", "rating agency of the reports")
	file := fs.String("file", "", "report bundle, a local path, s3://bucket/key or s3://bucket/prefix/")
	replace := fs.Bool("replace", false, "remove earlier reports of the agency first")
	deleteAfter := fs.Bool("delete-after", false, "remove the s3 bundle objects once their reports are stored")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agency == "" || *file == "" {
		return errors.New("ingest requires --agency and --file")
	}

	src, err := a.readBundles(ctx, *file)
	if err != nil {
		return err
	}
	if *deleteAfter && src.bucket == nil {
		return errors.New("--delete-after needs an s3:// bundle")
	}
	return a.withPipeline(ctx, false, func(p *pipeline.Pipeline) (any, error) {
		res, err := p.Ingest(ctx, *agency, src.reports, *replace)
		if err != nil || !*deleteAfter {
			return res, err
		}
		if err := src.bucket.DeleteFiles(ctx, src.keys); err != nil {
			logger.Warn("Could not delete ingested bundles", "bucket", src.bucket.Name(), "keys", src.keys, "err", err)
		}
		return res, nil
	})
}

// bundleSource holds the reports read for one ingest. bucket is nil for a
// local file.
type bundleSource struct {
	reports []common.ReportInput
	bucket  *storage.Bucket
	keys    []string
}

func (a *app) readBundles(ctx context.Context, path string) (bundleSource, error) {
	if bucket, key, ok := storage.ParseS3URI(path); ok {
		client, err := storage.NewS3Client(ctx, a.cfg.S3)
		if err != nil {
			return bundleSource{}, err
		}
		b := storage.NewBucket(client, bucket)
		reports, keys, err := b.GetReportBundles(ctx, key)
		if err != nil {
			return bundleSource{}, err
		}
		logger.Info("Read report bundles", "bucket", b.Name(), "bundles", len(keys), "reports", len(reports))
		return bundleSource{reports: reports, bucket: b, keys: keys}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return bundleSource{}, fmt.Errorf("read bundle: %w", err)
	}
	reports, err := storage.DecodeReportBundle(data)
	if err != nil {
		return bundleSource{}, err
	}
	return bundleSource{reports: reports}, nil
}

func (a *app) extract(ctx context.Context, args []string, rulesOnly bool) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	sections := fs.String("sections", "", "comma separated section names, empty for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := splitList(*sections)
	return a.withPipeline(ctx, !rulesOnly, func(p *pipeline.Pipeline) (any, error) {
		if rulesOnly {
			return p.ExtractRules(ctx, names)
		}
		return p.Extract(ctx, names)
	})
}

func (a *app) relate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relate", flag.ContinueOnError)
	sections := fs.String("sections", "", "comma separated section names, empty for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withPipeline(ctx, false, func(p *pipeline.Pipeline) (any, error) {
		return p.Relate(ctx, splitList(*sections))
	})
}

func (a *app) repair(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repair", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withPipeline(ctx, false, func(p *pipeline.Pipeline) (any, error) {
		return p.Repair(ctx)
	})
}

func (a *app) migrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dir := fs.String("dir", a.cfg.Database.Migrations, "migrations directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.Database.Driver == "sqlite" {
		logger.Info("The embedded store creates its schema on open, nothing to migrate")
		return nil
	}
	return db.Migrate(*dir, a.cfg.Database.URL)
}

func (a *app) recommend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	company := fs.String("company", "", "company name")
	sections := fs.String("sections", "", "comma separated section names")
	k := fs.Int("k", 0, "result count for every kind")
	kVar := fs.Int("k-var", 0, "number of variables")
	kFactor := fs.Int("k-factor", 0, "number of factors")
	kEvent := fs.Int("k-event", 0, "number of events")
	yearMin := fs.Int("year-min", 0, "earliest report year")
	yearMax := fs.Int("year-max", 0, "latest report year")
	reportLimit := fs.Int("report-limit", 0, "only the most recent n reports of the company")
	noGlobal := fs.Bool("no-global", false, "rank the company scope only")
	outPath := fs.String("out", "", "write the result to a file or s3://bucket/key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	req := rank.Request{
		Company:     strings.TrimSpace(*company),
		Sections:    splitList(*sections),
		KVariable:   pick(*kVar, *k),
		KFactor:     pick(*kFactor, *k),
		KEvent:      pick(*kEvent, *k),
		ReportLimit: *reportLimit,
	}
	if set["year-min"] {
		req.YearMin = yearMin
	}
	if set["year-max"] {
		req.YearMax = yearMax
	}
	if *noGlobal {
		useGlobal := false
		req.UseGlobal = &useGlobal
	}

	st, err := bootstrap.Store(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	resp, err := rank.NewRecommender(st, a.cfg.RankOptions()).Recommend(ctx, req)
	if err != nil {
		return err
	}
	if *outPath == "" {
		return a.print(resp)
	}
	return a.export(ctx, *outPath, resp)
}

func (a *app) export(ctx context.Context, path string, v any) error {
	if bucket, key, ok := storage.ParseS3URI(path); ok {
		client, err := storage.NewS3Client(ctx, a.cfg.S3)
		if err != nil {
			return err
		}
		if err := storage.NewBucket(client, bucket).PutJSON(ctx, key, v); err != nil {
			return err
		}
		logger.Info("Wrote recommendations", "bucket", bucket, "key", key)
		return nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("Wrote recommendations", "path", path)
	return nil
}

// pick returns specific when set and fallback otherwise.
func pick(specific, fallback int) int {
	if specific > 0 {
		return specific
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
