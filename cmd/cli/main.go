package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-core/internal/config"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/dvloznov/ledger-core/internal/runtime"
	"github.com/dvloznov/ledger-core/internal/statement"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	switch os.Args[1] {
	case "balance":
		runBalance(cfg, log)
	case "statement":
		runStatement(cfg, log)
	case "export":
		runExport(cfg, log)
	case "volume":
		runVolume(cfg, log)
	case "fetch":
		runFetch(cfg, log)
	case "freeze", "unfreeze", "close":
		runTransition(cfg, log, os.Args[1])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  balance    Show an account's balance and status")
	fmt.Println("  statement  Render an account statement as CSV (stdout or GCS)")
	fmt.Println("  export     Stream an account's ledger entries to BigQuery")
	fmt.Println("  volume     Show daily exported volume for an account")
	fmt.Println("  fetch      Download an archived statement from GCS")
	fmt.Println("  freeze     Freeze an account")
	fmt.Println("  unfreeze   Unfreeze an account")
	fmt.Println("  close      Close an account")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
	fmt.Println("\nStorage and destinations come from DATABASE_URL, BQ_PROJECT and GCS_BUCKET.")
}

func mustRuntime(ctx context.Context, cfg *config.Config, log zerolog.Logger) *runtime.Runtime {
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("Error: DATABASE_URL is required; the in-memory store has nothing to inspect")
	}
	rt, err := runtime.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runtime")
	}
	return rt
}

func requireAccount(log zerolog.Logger, id string) {
	if id == "" {
		log.Fatal().Msg("Error: -account is required")
	}
}

func runBalance(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	accountID := fs.String("account", "", "account ID")
	fs.Parse(os.Args[2:])
	requireAccount(log, *accountID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()

	acc, err := rt.Service.GetAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load account")
	}
	fmt.Printf("Account:  %s\n", acc.ID())
	fmt.Printf("Customer: %s\n", acc.CustomerID())
	fmt.Printf("Status:   %s\n", acc.Status())
	fmt.Printf("Balance:  %s %s\n", acc.Balance(), acc.Currency())
}

func runStatement(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("statement", flag.ExitOnError)
	accountID := fs.String("account", "", "account ID")
	from := fs.String("from", "", "first day included (YYYY-MM-DD)")
	to := fs.String("to", "", "last day included (YYYY-MM-DD)")
	upload := fs.Bool("upload", false, "archive to GCS_BUCKET instead of printing")
	fs.Parse(os.Args[2:])
	requireAccount(log, *accountID)

	fromT, toT := parseRange(log, *from, *to)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()

	if *upload {
		runJob(ctx, rt, log, &jobs.ExportJob{Type: jobs.JobTypeStatement, AccountID: *accountID, From: fromT, To: toT})
		return
	}

	acc, err := rt.Service.GetAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load account")
	}
	entries, err := rt.Service.GetLedgerEntriesByAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger entries")
	}
	txs, err := rt.Service.ListTransactions(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load transactions")
	}
	types := make(map[string]domain.TransactionType, len(txs))
	for _, tx := range txs {
		types[tx.ID] = tx.Type
	}

	if err := statement.WriteCSV(os.Stdout, statement.Build(acc, entries, types, fromT, toT)); err != nil {
		log.Fatal().Err(err).Msg("Failed to write statement")
	}
}

func runExport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	accountID := fs.String("account", "", "account ID")
	from := fs.String("from", "", "first day included (YYYY-MM-DD)")
	to := fs.String("to", "", "last day included (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])
	requireAccount(log, *accountID)

	fromT, toT := parseRange(log, *from, *to)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()

	runJob(ctx, rt, log, &jobs.ExportJob{Type: jobs.JobTypeLedgerExport, AccountID: *accountID, From: fromT, To: toT})
}

func runJob(ctx context.Context, rt *runtime.Runtime, log zerolog.Logger, job *jobs.ExportJob) {
	if !rt.Exports.Supports(job.Type) {
		log.Fatal().Str("type", string(job.Type)).Msg("Error: export destination not configured (set BQ_PROJECT or GCS_BUCKET)")
	}
	result, err := rt.Exports.Handle(ctx, job)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	fmt.Println(result)
}

func runVolume(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("volume", flag.ExitOnError)
	accountID := fs.String("account", "", "account ID")
	from := fs.String("from", "", "first day (YYYY-MM-DD)")
	to := fs.String("to", "", "last day (YYYY-MM-DD), defaults to today")
	fs.Parse(os.Args[2:])
	requireAccount(log, *accountID)
	if *from == "" {
		log.Fatal().Msg("Error: -from is required")
	}

	fromD, err := civil.ParseDate(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -from")
	}
	toD := civil.DateOf(time.Now().UTC())
	if *to != "" {
		if toD, err = civil.ParseDate(*to); err != nil {
			log.Fatal().Err(err).Msg("Invalid -to")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()
	if rt.Exporter == nil {
		log.Fatal().Msg("Error: BQ_PROJECT is required")
	}

	rows, err := rt.Exporter.DailyVolume(ctx, *accountID, fromD, toD)
	if err != nil {
		log.Fatal().Err(err).Msg("Volume query failed")
	}
	fmt.Printf("%-12s %14s %14s %14s %8s\n", "date", "debits", "credits", "net", "entries")
	for _, r := range rows {
		fmt.Printf("%-12s %14s %14s %14s %8d\n", r.EntryDate, r.Debits.FloatString(2), r.Credits.FloatString(2), r.Net.FloatString(2), r.Entries)
	}
}

func runFetch(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI of an archived statement")
	fs.Parse(os.Args[2:])
	if *uri == "" {
		log.Fatal().Msg("Error: -uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()
	if rt.Archive == nil {
		log.Fatal().Msg("Error: GCS_BUCKET is required")
	}

	data, err := rt.Archive.Download(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}
	os.Stdout.Write(data)
}

func runTransition(cfg *config.Config, log zerolog.Logger, verb string) {
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	accountID := fs.String("account", "", "account ID")
	fs.Parse(os.Args[2:])
	requireAccount(log, *accountID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rt := mustRuntime(ctx, cfg, log)
	defer rt.Close()

	var (
		acc *domain.Account
		err error
	)
	switch verb {
	case "freeze":
		acc, err = rt.Service.FreezeAccount(ctx, *accountID)
	case "unfreeze":
		acc, err = rt.Service.UnfreezeAccount(ctx, *accountID)
	default:
		acc, err = rt.Service.CloseAccount(ctx, *accountID)
	}
	if err != nil {
		log.Fatal().Err(err).Str("account_id", *accountID).Msgf("Failed to %s account", verb)
	}
	fmt.Printf("Account %s is now %s\n", acc.ID(), acc.Status())
}

// parseRange turns inclusive YYYY-MM-DD days into a half-open UTC range.
func parseRange(log zerolog.Logger, from, to string) (time.Time, time.Time) {
	var fromT, toT time.Time
	if from != "" {
		d, err := civil.ParseDate(from)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -from")
		}
		fromT = d.In(time.UTC)
	}
	if to != "" {
		d, err := civil.ParseDate(to)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -to")
		}
		toT = d.AddDays(1).In(time.UTC)
	}
	return fromT, toT
}
