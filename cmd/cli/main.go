package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/features"
	"github.com/himanishpuri/audion/internal/visual"
	"github.com/himanishpuri/audion/pkg/audion"
	"github.com/himanishpuri/audion/pkg/logger"
	"github.com/himanishpuri/audion/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Global flags
var (
	dbPath    string
	tempDir   string
	cacheDir  string
	formats   string
	ffmpegBin string
	workers   int
	noHistory bool
	logLevel  string
)

func registerGlobalFlags() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("AUDION_DB_PATH", "audion.sqlite3"), "Path to the SQLite run history database")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("AUDION_TEMP_DIR", "/tmp"), "Directory for temporary audio conversion files")
	flag.StringVar(&cacheDir, "cache", getEnvOrDefault("AUDION_CACHE_DIR", ""), "Directory for the feature cache (disabled when empty)")
	flag.StringVar(&formats, "formats", getEnvOrDefault("AUDION_ALLOWED_FORMATS", ""), "Comma separated list of accepted file extensions")
	flag.StringVar(&ffmpegBin, "ffmpeg", getEnvOrDefault("AUDION_FFMPEG", "ffmpeg"), "ffmpeg binary used for non-WAV input")
	flag.IntVar(&workers, "workers", getEnvInt("AUDION_WORKERS", 0), "Number of clips decoded in parallel (0 = all CPUs)")
	flag.BoolVar(&noHistory, "no-history", getEnvOrDefault("AUDION_HISTORY", "true") == "false", "Do not record runs in the history database")
	flag.StringVar(&logLevel, "log", getEnvOrDefault("AUDION_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// createService creates a new audion service with configured options
func createService(progress audion.ProgressFunc) (audion.Service, error) {
	opts := []audion.Option{
		audion.WithDBPath(dbPath),
		audion.WithTempDir(tempDir),
		audion.WithCacheDir(cacheDir),
		audion.WithFFmpeg(ffmpegBin),
		audion.WithHistory(!noHistory),
	}
	if formats != "" {
		opts = append(opts, audion.WithAllowedFormats(audio.ParseFormats(formats)...))
	}
	if workers > 0 {
		opts = append(opts, audion.WithWorkers(workers))
	}
	if progress != nil {
		opts = append(opts, audion.WithProgress(progress))
	}
	return audion.NewService(opts...)
}

func main() {
	_ = godotenv.Load()
	registerGlobalFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()
	if level, ok := logger.ParseLevel(logLevel); ok {
		log.SetLevel(level)
	}

	if flag.NArg() < 1 {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	command, args := flag.Arg(0), flag.Args()[1:]
	log.Infof("Executing command: %s", command)

	switch command {
	case "analyze":
		handleAnalyze(args)
	case "compare":
		handleCompare(args)
	case "match":
		handleMatch(args)
	case "history":
		handleHistory(args)
	case "show":
		handleShow(args)
	case "delete":
		handleDelete(args)
	case "formats":
		handleFormats()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
                 _ _
   __ _ _   _  __| (_) ___  _ __
  / _' | | | |/ _' | |/ _ \| '_ \
 | (_| | |_| | (_| | | (_) | | | |
  \__,_|\__,_|\__,_|_|\___/|_| |_|

      Spectral Audio Matching CLI
`
	fmt.Println(banner)
}

// splitArgs separates leading positional arguments from the flags that
// follow them, so "analyze song.wav --json" parses like "analyze --json song.wav".
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func fail(log *logger.Logger, what string, err error) {
	fmt.Printf("\n❌ %s: %v\n", what, err)
	log.Errorf("%s: %v", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Printf("❌ Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

func handleAnalyze(args []string) {
	log := logger.GetLogger()

	paths, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	image := cmd.String("image", "", "Write the spectrogram PNG to this path")
	asJSON := cmd.Bool("json", false, "Print the analysis as JSON")
	cmd.Parse(flagArgs)
	paths = append(paths, cmd.Args()...)

	if len(paths) != 1 {
		fmt.Println("Usage: audion analyze <audio_file> [--image out.png] [--json]")
		os.Exit(1)
	}

	svc, err := createService(nil)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !*asJSON {
		fmt.Println("🔍 Analyzing audio file...")
	}
	a, err := svc.Analyze(ctx, audion.NewClip(paths[0]), *image != "")
	if err != nil {
		fail(log, "Failed to analyze", err)
	}

	if *image != "" {
		if err := writeDataURL(*image, a.Spectrogram); err != nil {
			log.Warnf("Spectrogram not written: %v", err)
		}
	}

	if *asJSON {
		printJSON(a)
		return
	}

	fmt.Printf("\n🎵 %s\n", a.Filename)
	fmt.Printf("   Sample rate: %d Hz | Channels: %d | Duration: %.2fs\n", a.SampleRate, a.Channels, a.Duration)
	fmt.Println("\n   Band energies:")
	for i, b := range features.Bands {
		label := fmt.Sprintf("%g-%g Hz", b.Low, b.High)
		fmt.Printf("     %-14s %6.2f%%\n", label, a.BandEnergies[i]*100)
	}
	fmt.Println("\n   Spectral features:")
	fmt.Printf("     Centroid:  %.1f Hz (σ %.1f)\n", a.STFTFeatures.CentroidMean, a.STFTFeatures.CentroidStd)
	fmt.Printf("     Bandwidth: %.1f Hz (σ %.1f)\n", a.STFTFeatures.BandwidthMean, a.STFTFeatures.BandwidthStd)
	if a.RunID != "" {
		fmt.Printf("\n   Run: %s\n", a.RunID)
	}
}

func handleCompare(args []string) {
	log := logger.GetLogger()

	paths, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet("compare", flag.ExitOnError)
	asJSON := cmd.Bool("json", false, "Print the comparison as JSON")
	cmd.Parse(flagArgs)
	paths = append(paths, cmd.Args()...)

	if len(paths) != 2 {
		fmt.Println("Usage: audion compare <audio_a> <audio_b> [--json]")
		os.Exit(1)
	}

	svc, err := createService(nil)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := svc.Compare(ctx, audion.NewClip(paths[0]), audion.NewClip(paths[1]))
	if err != nil {
		fail(log, "Failed to compare", err)
	}

	if *asJSON {
		printJSON(c)
		return
	}

	s := c.Similarity
	fmt.Printf("\n🎧 %s ~ %s\n", c.A, c.B)
	fmt.Printf("   Similarity: %.4f | Confidence: %.0f%%\n", s.Total, s.Confidence*100)
	fmt.Printf("   Energy: %.4f | Spectral: %.4f | Frequency: %.4f (p=%.4f)\n",
		s.Energy, s.Spectral, s.Frequency, s.PValue)
}

func handleMatch(args []string) {
	log := logger.GetLogger()

	cmd := flag.NewFlagSet("match", flag.ExitOnError)
	testList := cmd.String("test", "", "Comma separated test clips")
	refList := cmd.String("ref", "", "Comma separated reference clips")
	asJSON := cmd.Bool("json", false, "Print the report as JSON")
	images := cmd.String("images", "", "Write spectrograms of the test clips into this directory")
	cmd.Parse(args)

	tests := clipsFromList(*testList)
	refs := clipsFromList(*refList)
	if len(tests) == 0 || len(refs) == 0 {
		fmt.Println("Usage: audion match --test a.wav,b.wav --ref x.wav,y.wav [--json] [--images dir]")
		os.Exit(1)
	}

	var bars *progressBars
	if !*asJSON {
		bars = newProgressBars()
	}

	svc, err := createService(bars.update)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if !*asJSON {
		fmt.Printf("🔍 Matching %d test clip(s) against %d reference(s)...\n\n", len(tests), len(refs))
	}
	res, err := svc.Match(ctx, tests, refs, *images != "")
	bars.wait(err != nil)
	if err != nil {
		fail(log, "Failed to match", err)
	}

	if *images != "" {
		writeImages(log, *images, res.Results)
	}

	if *asJSON {
		printJSON(res)
		return
	}

	fmt.Printf("\n✅ Matched %d of %d test clip(s)\n\n", len(res.Results)-res.UnmatchedCount, len(res.Results))
	for i, r := range res.Results {
		if !r.Matched() {
			fmt.Printf("%d. %s → (no match)\n", i+1, r.Test)
			continue
		}
		fmt.Printf("%d. %s → %s\n", i+1, r.Test, *r.Match)
		fmt.Printf("   Score: %.4f | Confidence: %.0f%%\n", r.Confidence, r.SimilarityDetails.Confidence*100)
	}
	fmt.Printf("\n   Total score: %.4f\n", res.TotalScore)
	for _, w := range res.Warnings {
		fmt.Printf("   ⚠️  %s\n", w)
	}
	if res.RunID != "" {
		fmt.Printf("   Run: %s\n", res.RunID)
	}
}

func clipsFromList(list string) []audion.Clip {
	var clips []audion.Clip
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			clips = append(clips, audion.NewClip(p))
		}
	}
	return clips
}

func writeImages(log *logger.Logger, dir string, results []audion.ClipResult) {
	if err := utils.MakeDir(dir); err != nil {
		log.Warnf("Cannot create %s: %v", dir, err)
		return
	}
	for _, r := range results {
		if r.Spectrogram == "" {
			continue
		}
		base := strings.TrimSuffix(r.Test, filepath.Ext(r.Test))
		path := filepath.Join(dir, utils.SanitizeFilename(base)+".png")
		if err := writeDataURL(path, r.Spectrogram); err != nil {
			log.Warnf("Spectrogram for %s not written: %v", r.Test, err)
		}
	}
}

func writeDataURL(path, url string) error {
	if url == "" {
		return errors.New("no spectrogram was rendered")
	}
	png, err := visual.DecodeDataURL(url)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0644)
}

func handleHistory(args []string) {
	log := logger.GetLogger()

	cmd := flag.NewFlagSet("history", flag.ExitOnError)
	kind := cmd.String("kind", "", "Only show runs of this kind (match, analyze, compare)")
	limit := cmd.Int("limit", 20, "Maximum number of runs to show (0 = all)")
	cmd.Parse(args)

	svc, err := createService(nil)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	runs, err := svc.ListRuns(*kind, *limit)
	if err != nil {
		fail(log, "Failed to list runs", err)
	}

	if len(runs) == 0 {
		fmt.Println("\n📭 No runs recorded")
		return
	}

	fmt.Printf("\n📚 Found %d run(s):\n\n", len(runs))
	for i, r := range runs {
		fmt.Printf("%d. [%s] %s  %s\n", i+1, r.Kind, r.ID, r.CreatedAt.Local().Format(time.DateTime))
		switch r.Kind {
		case "match":
			fmt.Printf("   %d test / %d reference | Score: %.4f | Unmatched: %d\n",
				r.TestCount, r.ReferenceCount, r.TotalScore, r.UnmatchedCount)
		case "compare":
			fmt.Printf("   Similarity: %.4f\n", r.TotalScore)
		}
	}
	log.Infof("Listed %d runs", len(runs))
}

func handleShow(args []string) {
	log := logger.GetLogger()

	if len(args) != 1 {
		fmt.Println("Usage: audion show <run_id>")
		os.Exit(1)
	}

	svc, err := createService(nil)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	run, err := svc.GetRun(args[0])
	if err != nil {
		fail(log, "Failed to load run", err)
	}
	printJSON(run)
}

func handleDelete(args []string) {
	log := logger.GetLogger()

	if len(args) != 1 {
		fmt.Println("Usage: audion delete <run_id>")
		os.Exit(1)
	}
	if !utils.IsUUID(args[0]) {
		fmt.Printf("❌ Invalid run ID: %s\n", args[0])
		os.Exit(1)
	}

	svc, err := createService(nil)
	if err != nil {
		fail(log, "Failed to create service", err)
	}
	defer svc.Close()

	if err := svc.DeleteRun(args[0]); err != nil {
		if errors.Is(err, audion.ErrRunNotFound) {
			fmt.Printf("❌ Run not found (ID: %s)\n", args[0])
			os.Exit(1)
		}
		fail(log, "Failed to delete run", err)
	}

	fmt.Printf("\n✅ Deleted run %s\n", args[0])
	log.Infof("Deleted run %s", args[0])
}

func handleFormats() {
	list := audio.DefaultFormats
	if formats != "" {
		list = audio.ParseFormats(formats)
	}
	fmt.Println("Accepted formats:", strings.Join(list, ", "))
	if !audio.FFmpegAvailable(ffmpegBin) {
		fmt.Printf("⚠️  %s not found: only WAV input can be decoded\n", ffmpegBin)
	}
}

// progressBars draws one bar per pipeline stage as the service reports
// progress. A nil *progressBars ignores every call.
type progressBars struct {
	mu   sync.Mutex
	p    *mpb.Progress
	bars map[string]*mpb.Bar
}

func newProgressBars() *progressBars {
	return &progressBars{
		p:    mpb.New(mpb.WithWidth(64)),
		bars: make(map[string]*mpb.Bar),
	}
}

var stageLabels = map[string]string{
	audion.ProgressProfile: "Profiling: ",
	audion.ProgressScore:   "Scoring:   ",
}

func (pb *progressBars) update(ev audion.ProgressEvent) {
	if pb == nil {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()

	bar, ok := pb.bars[ev.Stage]
	if !ok {
		bar = pb.p.AddBar(int64(ev.Total),
			mpb.PrependDecorators(
				decor.Name(stageLabels[ev.Stage]),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
		pb.bars[ev.Stage] = bar
	}
	bar.SetCurrent(int64(ev.Done))
}

func (pb *progressBars) wait(aborted bool) {
	if pb == nil {
		return
	}
	pb.mu.Lock()
	if aborted {
		for _, bar := range pb.bars {
			bar.Abort(false)
		}
	}
	pb.mu.Unlock()
	pb.p.Wait()
}

func printUsage() {
	fmt.Println("audion - Spectral Audio Matching CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        Run history database (env: AUDION_DB_PATH, default: audion.sqlite3)")
	fmt.Println("  --temp <dir>       Temporary directory for audio conversion (env: AUDION_TEMP_DIR, default: /tmp)")
	fmt.Println("  --cache <dir>      Feature cache directory (env: AUDION_CACHE_DIR, default: disabled)")
	fmt.Println("  --formats <list>   Accepted extensions (env: AUDION_ALLOWED_FORMATS, default: wav,mp3,flac,m4a)")
	fmt.Println("  --ffmpeg <bin>     ffmpeg binary (env: AUDION_FFMPEG, default: ffmpeg)")
	fmt.Println("  --workers <n>      Parallel decoders (env: AUDION_WORKERS, default: all CPUs)")
	fmt.Println("  --no-history       Do not record runs (env: AUDION_HISTORY=false)")
	fmt.Println("  --log <level>      Log level (env: AUDION_LOG_LEVEL, default: warn)")
	fmt.Println("\nUsage:")
	fmt.Println("  audion [global-options] analyze <audio_file> [--image out.png] [--json]")
	fmt.Println("  audion [global-options] compare <audio_a> <audio_b> [--json]")
	fmt.Println("  audion [global-options] match --test <a,b,...> --ref <x,y,...> [--images dir] [--json]")
	fmt.Println("  audion [global-options] history [--kind match] [--limit 20]")
	fmt.Println("  audion [global-options] show <run_id>")
	fmt.Println("  audion [global-options] delete <run_id>")
	fmt.Println("  audion [global-options] formats")
	fmt.Println("\nExamples:")
	fmt.Println("  # Match three recordings against their references")
	fmt.Println("  audion match --test take1.wav,take2.wav,take3.wav --ref a.mp3,b.mp3 --images ./spectrograms")
	fmt.Println()
	fmt.Println("  # Compare two clips with the feature cache enabled")
	fmt.Println("  audion --cache ~/.cache/audion compare a.wav b.flac")
}
