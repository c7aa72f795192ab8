package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"nervesim/internal/config"
	"nervesim/pkg/nervesim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "profiles":
		return runProfiles(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "results":
		return runResults(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "config":
		return runConfig(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// storeFlags are shared by every command that touches persisted runs. Empty
// values keep the settings of the configuration file.
type storeFlags struct {
	configPath *string
	storeKind  *string
	storePath  *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		configPath: fs.String("config", "", "YAML configuration layered over the defaults"),
		storeKind:  fs.String("store", "", "store backend: memory|dir|sqlite"),
		storePath:  fs.String("store-path", "", "store root directory or sqlite database path"),
	}
}

func (f storeFlags) load() (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	if *f.storeKind != "" {
		cfg.Store.Kind = *f.storeKind
	}
	if *f.storePath != "" {
		cfg.Store.Path = *f.storePath
	}
	return cfg, nil
}

func openClient(cfg *config.Config, exportsDir string) (*nervesim.Client, error) {
	return nervesim.New(nervesim.Options{
		StoreKind:  cfg.Store.Kind,
		Path:       cfg.Store.Path,
		ExportsDir: exportsDir,
		Logger:     cfg.Logger(os.Stderr),
	})
}

func runProfiles(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("profiles", flag.ContinueOnError)
	fiber := fs.String("fiber", "all", "fiber type: all|myelinated|unmyelinated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var filter *bool
	switch *fiber {
	case "all":
	case "myelinated", "unmyelinated":
		myelinated := *fiber == "myelinated"
		filter = &myelinated
	default:
		return fmt.Errorf("unsupported fiber type: %s", *fiber)
	}

	client, err := nervesim.New(nervesim.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	for _, p := range client.Profiles(filter) {
		fmt.Printf("profile=%s myelinated=%t mean_diameter=%.3f source=%q\n", p.Name, p.Myelinated, p.Mean, p.Source)
	}
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	id := fs.String("id", "", "fascicle id (random UUID when empty)")
	count := fs.Int("count", -1, "number of axons; 0 fills the contour to the target fvf")
	seed := fs.Int64("seed", -1, "population seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	if *count >= 0 {
		cfg.Geometry.Count = *count
	}
	if *seed >= 0 {
		cfg.Geometry.Seed = uint64(*seed)
	}

	client, err := openClient(cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	f, err := client.Generate(ctx, nervesim.GenerateRequest{ID: *id, Config: cfg})
	if err != nil {
		return err
	}
	myelinated := 0
	for _, a := range f.Axons {
		if a.Myelinated {
			myelinated++
		}
	}
	fmt.Printf("generated fascicle=%s axons=%d myelinated=%d store=%s\n", f.ID, len(f.Axons), myelinated, cfg.Store.Kind)
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	fascicleID := fs.String("fascicle", "", "fascicle id")
	workers := fs.Int("workers", 0, "number of ranks (0 keeps the configured value)")
	axons := fs.String("axons", "", "comma-separated axon ids (all when empty)")
	resume := fs.Bool("resume", false, "skip axons that already have a persisted record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fascicleID == "" {
		return errors.New("simulate requires --fascicle")
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	if *workers > 0 {
		cfg.Simulation.Workers = *workers
	}
	if *resume {
		cfg.Simulation.Resume = true
	}
	ids, err := parseIDs(*axons)
	if err != nil {
		return err
	}

	client, err := openClient(cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Simulate(ctx, nervesim.SimulateRequest{FascicleID: *fascicleID, AxonIDs: ids, Config: cfg})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("simulation of %s interrupted: %w", *fascicleID, err)
		}
		return err
	}
	printCounts(result)
	return nil
}

func runResults(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	fascicleID := fs.String("fascicle", "", "fascicle id (lists stored fascicles when empty)")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	client, err := openClient(cfg, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *fascicleID == "" {
		ids, err := client.Fascicles(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Printf("fascicle=%s\n", id)
		}
		return nil
	}
	result, err := client.Result(ctx, *fascicleID)
	if err != nil {
		return err
	}
	if *asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printCounts(result)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	fascicleID := fs.String("fascicle", "", "fascicle id")
	outDir := fs.String("out", "exports", "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fascicleID == "" {
		return errors.New("export requires --fascicle")
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	client, err := openClient(cfg, *outDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, nervesim.ExportRequest{FascicleID: *fascicleID})
	if err != nil {
		return err
	}
	fmt.Printf("exported fascicle=%s to=%s recruited_fraction=%.3f\n", summary.FascicleID, summary.Directory, summary.Summary.RecruitedFraction)
	return nil
}

func runConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration layered over the defaults")
	out := fs.String("out", "", "write the resolved configuration to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" && *out == "" {
		_, err := os.Stdout.Write(config.DefaultsYAML())
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *out == "" {
		return errors.New("config with --config requires --out")
	}
	if err := cfg.WriteYAML(*out); err != nil {
		return err
	}
	fmt.Printf("wrote config to=%s\n", *out)
	return nil
}

func printCounts(result nervesim.Result) {
	c := result.Counts
	fmt.Printf("fascicle=%s simulated=%d recruited=%d myelinated=%d unmyelinated=%d blocked=%d not_blocked=%d missing=%d\n",
		result.FascicleID, c.Simulated, c.Recruited, c.RecruitedMyelinated, c.RecruitedUnmyelinated, c.Blocked, c.NotBlocked, c.Missing)
	if len(result.Missing) > 0 {
		fmt.Printf("missing_ids=%v\n", result.Missing)
	}
}

func parseIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid axon id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: nervectl <profiles|generate|simulate|results|export|config> [flags]", msg)
}
