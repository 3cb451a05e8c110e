package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"trcflow/internal/config"
	"trcflow/internal/ingest"
	"trcflow/internal/llm"
	"trcflow/internal/pipeline"
	"trcflow/internal/stages"
	"trcflow/internal/store"
	"trcflow/internal/types"
)

const startLayout = "2006-01-02 15:04"

// incidentLister is the optional store capability behind -list.
type incidentLister interface {
	ListIncidents(ctx context.Context) ([]string, error)
}

func main() {
	file := flag.String("file", "", "transcript file to process; further files as positional arguments")
	incidentID := flag.String("incident", "", "incident id (defaults to the id in the filename)")
	startAt := flag.String("start", "", "meeting start (RFC3339 or \"2006-01-02 15:04\") when the filename carries no stamp")
	from := flag.String("from", "", "re-run from this stage onward, backfilling missing upstream outputs")
	force := flag.Bool("force", false, "process a file even when the call is already processed")
	rerunAll := flag.Bool("rerun-all", false, "re-run every stored call of -incident")
	list := flag.Bool("list", false, "list stored incident ids and exit")
	cfgPath := flag.String("config", "config.yaml", "configuration file")
	outDir := flag.String("out", "", "data directory override")
	concurrency := flag.Int("concurrency", 0, "parallel call limit override")
	model := flag.String("model", "", "Gemini model id override")
	flag.Parse()

	_ = godotenv.Load()

	snap, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *outDir != "" {
		snap.DataDir = *outDir
	}
	if *concurrency > 0 {
		snap.Concurrency = *concurrency
	}
	if *model != "" {
		snap.LLM.Model = *model
	}
	log.Printf("configuration %s loaded from %s", snap.Version, *cfgPath)

	ctx := context.Background()
	docStore, closeStore, err := openStore(snap)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	if *list {
		lister, ok := docStore.(incidentLister)
		if !ok {
			log.Fatal("store does not support listing")
		}
		ids, err := lister.ListIncidents(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}

	registry, err := config.BuildRegistry(snap, stages.All())
	if err != nil {
		log.Fatal(err)
	}

	env := &pipeline.Env{}
	if snap.LLM.APIKey != "" {
		// The genai client reads the key from the environment.
		os.Setenv("GEMINI_API_KEY", snap.LLM.APIKey)
		cli, err := llm.NewGeminiClient(ctx, snap.LLM.Model)
		if err != nil {
			log.Fatal(err)
		}
		defer cli.Close()
		env.LLM = cli
		log.Printf("model: %s", cli.Name())
	} else {
		log.Print("no API key configured; stages use their deterministic fallbacks")
	}
	env.Artifacts, err = openArtifacts(snap)
	if err != nil {
		log.Fatal(err)
	}

	incident, calls, err := buildCalls(ctx, docStore, snap, *file, flag.Args(), *incidentID, *startAt, *from, *force, *rerunAll)
	if err != nil {
		log.Fatal(err)
	}
	if len(calls) == 0 {
		log.Print("nothing to do")
		return
	}

	runner := &pipeline.Runner{
		Registry:    registry,
		Store:       docStore,
		Env:         env,
		Concurrency: snap.Concurrency,
	}
	res, err := runner.Run(ctx, incident, calls)
	if err != nil {
		log.Fatal(err)
	}
	report(res)
	if res.Failed() {
		os.Exit(1)
	}
}

func openStore(snap *config.Snapshot) (pipeline.Store, func(), error) {
	if dsn := snap.Storage.PostgresDSN; dsn != "" {
		pg, err := store.NewPGStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	}
	fs, err := store.NewFileStore(snap.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func openArtifacts(snap *config.Snapshot) (pipeline.ArtifactWriter, error) {
	if snap.S3.Endpoint != "" {
		return store.NewS3ArtifactStore(store.S3Config{
			Endpoint:  snap.S3.Endpoint,
			Region:    snap.S3.Region,
			AccessKey: snap.S3.AccessKey,
			SecretKey: snap.S3.SecretKey,
			Bucket:    snap.S3.Bucket,
			UseSSL:    snap.S3.UseSSL,
		})
	}
	return store.NewFSArtifactStore(snap.DataDir)
}

// buildCalls translates the flags into the run's call requests. All calls of
// one run belong to a single incident.
func buildCalls(ctx context.Context, docStore pipeline.Store, snap *config.Snapshot,
	file string, extra []string, incidentID, startAt, from string, force, rerunAll bool) (string, []pipeline.CallRequest, error) {

	if rerunAll {
		if incidentID == "" {
			return "", nil, fmt.Errorf("-rerun-all requires -incident")
		}
		inc, err := docStore.LoadIncident(ctx, incidentID)
		if err != nil {
			return "", nil, err
		}
		if inc == nil || len(inc.TRCs) == 0 {
			return "", nil, fmt.Errorf("incident %s has no stored calls", incidentID)
		}
		calls := make([]pipeline.CallRequest, 0, len(inc.TRCs))
		for _, trc := range inc.TRCs {
			calls = append(calls, pipeline.CallRequest{
				TRCID:     trc.TRCID,
				StartTime: trc.StartTime,
				FromStage: from,
			})
		}
		return incidentID, calls, nil
	}

	files := extra
	if file != "" {
		files = append([]string{file}, extra...)
	}
	if len(files) == 0 {
		return "", nil, fmt.Errorf("nothing to process; pass -file, or -incident with -rerun-all")
	}

	var startOverride time.Time
	if startAt != "" {
		if len(files) > 1 {
			return "", nil, fmt.Errorf("-start applies to a single file")
		}
		var err error
		startOverride, err = time.Parse(time.RFC3339, startAt)
		if err != nil {
			startOverride, err = time.ParseInLocation(startLayout, startAt, time.Local)
		}
		if err != nil {
			return "", nil, fmt.Errorf("bad -start value %q: %w", startAt, err)
		}
	}

	var incident *types.Incident
	var calls []pipeline.CallRequest
	for _, path := range files {
		info, data, hash, err := ingest.ReadTranscript(path)
		if err != nil {
			return "", nil, err
		}
		if incidentID == "" {
			incidentID = info.IncidentID
		} else if info.IncidentID != incidentID {
			return "", nil, fmt.Errorf("%s belongs to %s, not %s; one incident per run", path, info.IncidentID, incidentID)
		}
		start := info.StartTime
		if !startOverride.IsZero() {
			start = startOverride
		}
		if start.IsZero() {
			return "", nil, fmt.Errorf("%s has no datetime stamp; pass -start", path)
		}
		trcID := ingest.TRCID(start)

		if incident == nil {
			incident, err = docStore.LoadIncident(ctx, incidentID)
			if err != nil {
				return "", nil, err
			}
		}
		if !force && from == "" && alreadyProcessed(incident, trcID, hash) {
			log.Printf("%s: already processed as %s; use -force or -from to re-run", path, trcID)
			continue
		}

		calls = append(calls, pipeline.CallRequest{
			TRCID:            trcID,
			StartTime:        start,
			RawTranscript:    string(data),
			OriginalFilename: path,
			FileHash:         hash,
			FromStage:        from,
		})
	}
	return incidentID, calls, nil
}

func alreadyProcessed(inc *types.Incident, trcID, hash string) bool {
	if inc == nil {
		return false
	}
	trc, ok := inc.TRCByID(trcID)
	return ok && trc.Status == types.StatusProcessed && trc.FileHash == hash
}

func report(res *pipeline.RunResult) {
	for _, call := range res.Calls {
		switch call.State {
		case pipeline.CallCompleted:
			log.Printf("%s: completed (%d stages)", call.TRCID, len(call.StageLogs))
		case pipeline.CallFailed:
			log.Printf("%s: failed at %s: %v", call.TRCID, call.FailedStage, call.Err)
		default:
			log.Printf("%s: %s", call.TRCID, call.State)
		}
		for _, w := range call.Warnings {
			log.Printf("%s: warning: %s", call.TRCID, w)
		}
	}
	for _, w := range res.Warnings {
		log.Printf("run %s: warning: %s", res.RunID, w)
	}
}
