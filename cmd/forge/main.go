// Command forge is the CLI front-end over the build engine.
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/thought-machine/go-flags"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/forge/action"
	"github.com/thought-machine/forge/assemble"
	"github.com/thought-machine/forge/cache"
	"github.com/thought-machine/forge/core"
	"github.com/thought-machine/forge/engine"
	"github.com/thought-machine/forge/hashes"
	"github.com/thought-machine/forge/label"
	"github.com/thought-machine/forge/metrics"
	"github.com/thought-machine/forge/parse"
	"github.com/thought-machine/forge/process"
	"github.com/thought-machine/forge/rulekey"
	"github.com/thought-machine/forge/rules"
)

var log = logging.MustGetLogger("forge")

var opts struct {
	Usage string `usage:"forge builds targets described in BUILD files."`

	RepoRoot   string            `short:"r" long:"repo_root" description:"Root of the repository to build" default:"."`
	NumThreads int               `short:"n" long:"num_threads" description:"Maximum concurrent BUILD_STEPS executions"`
	Verbosity  int               `short:"v" long:"verbosity" description:"Log verbosity: 0=error .. 4=debug" default:"2"`
	KeepGoing  bool              `long:"keep_going" description:"Continue building unaffected targets after a failure"`
	Config     map[string]string `short:"o" long:"config" key-value-delimiter:"=" description:"Config override, of the form section.key=value"`
	NoCache    bool              `long:"nocache" description:"Disable all artifact caches for this build"`

	Build struct {
		Args struct {
			Targets []string `positional-arg-name:"targets" description:"Targets to build, e.g. //src/foo:bar"`
		} `positional-args:"true" required:"true"`
	} `command:"build" description:"Builds one or more targets"`
}

// Exit codes: 0 success, 1 build error, 2 parse error, 3 user error.
const (
	exitSuccess    = 0
	exitBuildError = 1
	exitParseError = 2
	exitUserError  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return exitSuccess
		}
		return exitUserError
	}
	initLogging(opts.Verbosity)

	if parser.Active == nil || parser.Active.Name != "build" {
		log.Error("forge currently only implements the build command")
		return exitUserError
	}
	return runBuild()
}

// exitCodeFor maps an error to the command's exit code; graph-phase
// errors are distinguished from build failures.
func exitCodeFor(err error) int {
	var parseErr *core.ParseError
	var coerceErr *core.CoerceError
	var cycleErr *core.CycleError
	var configErr *core.ConfigurationError
	if errors.As(err, &parseErr) || errors.As(err, &coerceErr) || errors.As(err, &cycleErr) || errors.As(err, &configErr) {
		return exitParseError
	}
	return exitBuildError
}

func initLogging(verbosity int) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		"%{color}%{time:15:04:05.000} %{level:.4s}%{color:reset} %{message}",
	))
	logging.SetBackend(formatted)
	levels := []logging.Level{logging.ERROR, logging.WARNING, logging.NOTICE, logging.INFO, logging.DEBUG}
	level := levels[len(levels)-1]
	if verbosity >= 0 && verbosity < len(levels) {
		level = levels[verbosity]
	}
	logging.SetLevel(level, "")
}

func runBuild() int {
	repoRoot, err := filepath.Abs(opts.RepoRoot)
	if err != nil {
		log.Errorf("resolving repo root: %s", err)
		return exitUserError
	}

	config, err := core.ReadConfigFiles([]string{
		filepath.Join(repoRoot, core.ConfigFileName),
		filepath.Join(repoRoot, core.LocalConfigFileName),
	})
	if err != nil {
		log.Errorf("reading config: %s", err)
		return exitUserError
	}
	if err := config.ApplyOverrides(opts.Config); err != nil {
		log.Errorf("%s", err)
		return exitUserError
	}
	if opts.NumThreads > 0 {
		config.Build.NumThreads = opts.NumThreads
	}
	if opts.KeepGoing {
		config.Build.KeepGoing = true
	}

	outRoot := filepath.Join(repoRoot, "forge-out")
	patterns := make([]label.Pattern, len(opts.Build.Args.Targets))
	for i, t := range opts.Build.Args.Targets {
		p, err := label.ParsePattern(t, "", "")
		if err != nil {
			log.Errorf("parsing target pattern %q: %s", t, err)
			return exitUserError
		}
		patterns[i] = p
	}

	registry := core.NewRegistry()
	fs := parse.OSFileSystem{Root: repoRoot}

	hashFunc, err := hashes.NewHashFunc(config.Build.HashFunction)
	if err != nil {
		log.Errorf("configuring hash function: %s", err)
		return exitUserError
	}
	mode := hashes.PathsAndContents
	if config.Build.FileHashMode == "PATHS_ONLY" {
		mode = hashes.PathsOnly
	}
	pathHasher, err := hashes.NewPathHasher(repoRoot, mode, hashFunc, false)
	if err != nil {
		log.Errorf("setting up file hasher: %s", err)
		return exitUserError
	}
	defer pathHasher.Close()

	executor := process.New()
	registry.Register(&rules.Description{
		OutRoot:     outRoot,
		Executor:    executor,
		SourcePaths: repoSourceResolver{root: repoRoot},
	})

	root := label.Cell{Name: ""}
	cells := label.NewCellMap(root)

	newEvaluator := func(cell string) *parse.Evaluator {
		return parse.NewEvaluator(cell, fs, registry, nil, nil)
	}
	resolver := parse.NewResolver(registry, cells, nil, config.Parse.PackageBoundaryCheck)
	assembler := assemble.New(fs, cells, registry, config.Parse.BuildFileName, newEvaluator, resolver)

	graph, err := assembler.Assemble(context.Background(), patterns)
	if err != nil {
		log.Errorf("assembling target graph: %s", err)
		return exitCodeFor(err)
	}
	if config.Build.VersionedGraph {
		// No version constraints are declarable through this front end
		// yet, so the rewrite is an identity pass; it still validates
		// the rewritten graph end to end.
		graph, err = core.ApplyVersioning(graph, core.GreatestSatisfying{}, nil)
		if err != nil {
			log.Errorf("versioning pass: %s", err)
			return exitCodeFor(err)
		}
	}

	builder := action.NewBuilder(graph, registry, repoSourceResolver{root: repoRoot})
	keyFactory := rulekey.NewFactory(pathHasher, "v1", config.Build.KeyedHashSeed, nil)

	backends := []cache.Backend{}
	if !opts.NoCache {
		if config.Cache.Dir != "" {
			dirBackend, err := cache.NewDirBackend(config.Cache.Dir)
			if err != nil {
				log.Errorf("setting up dir cache: %s", err)
				return exitUserError
			}
			backends = append(backends, dirBackend)
		}
		if config.Cache.HTTPURL != "" {
			backends = append(backends, cache.NewHTTPBackend(config.Cache.HTTPURL, config.Cache.HTTPWriteable, nil))
		}
		if len(backends) == 0 {
			backends = append(backends, cache.NewMemoryBackend())
		}
	}
	cascade := cache.NewCascade(backends...)

	eng := engine.New(builder, keyFactory, cascade, engine.Config{
		Concurrency: config.Build.NumThreads,
		KeepGoing:   config.Build.KeepGoing,
		OutRoot:     outRoot,
	})

	recorder := metrics.InitFromConfig(config, eng.Bus())
	defer recorder.Stop()

	ctx := context.Background()
	if config.Build.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(config.Build.Timeout)*time.Second)
		defer cancel()
	}

	resolvedTargets, err := assembler.Expand(patterns)
	if err != nil {
		log.Errorf("expanding target patterns: %s", err)
		return exitCodeFor(err)
	}

	results, err := eng.Build(ctx, resolvedTargets)
	exit := exitSuccess
	for _, target := range resolvedTargets {
		res := results[target]
		if res == nil {
			continue
		}
		if res.State == engine.Done {
			log.Noticef("%s: %s", target, res.State)
		} else {
			log.Errorf("%s: %s: %s", target, res.State, res.Err)
			exit = exitBuildError
		}
	}
	if err != nil && exit == exitSuccess {
		exit = exitCodeFor(err)
	}
	return exit
}

type repoSourceResolver struct {
	root string
}

func (r repoSourceResolver) Resolve(logical string) (string, error) {
	return filepath.Join(r.root, logical), nil
}
