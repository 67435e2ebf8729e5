// Command solve reads an optimize request from a JSON file and prints the ranked solutions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"moddispatch/internal/dispatch"
	"moddispatch/internal/distance"
	"moddispatch/internal/model"
	"moddispatch/internal/obs"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "solve:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", os.Getenv("ROUTING_URL"), "routing backend base URL (osrm, valhalla)")
	backend := fs.String("backend", "", "routing backend overriding the request routeType")
	seed := fs.Int64("seed", 0, "random seed; 0 picks one")
	iterations := fs.Int("iterations", 0, "ALNS iterations per trial; 0 keeps the default")
	level := fs.String("log-level", "warn", "log level")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: solve [flags] problem.json")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one problem file")
	}

	req, err := readRequest(fs.Arg(0))
	if err != nil {
		return err
	}
	if *backend != "" {
		req.RouteType = *backend
	}
	if *seed != 0 {
		req.AlgorithmParameters.Seed = *seed
	}
	if *iterations > 0 {
		req.AlgorithmParameters.NbIterations = *iterations
	}
	p, err := req.Problem()
	if err != nil {
		return err
	}
	rt, err := distance.ParseBackend(req.RouteType)
	if err != nil {
		return err
	}
	prov, err := distance.New(rt, *url, distance.Options{})
	if err != nil {
		return err
	}

	logger := obs.NewLogger(*level, "text")
	logger.SetOutput(stderr)
	mem := store.NewMemory()
	engine := dispatch.New(dispatch.Options{
		Providers: map[distance.Backend]distance.MatrixProvider{
			rt: &distance.Cached{Backend: prov, Cache: mem, Name: rt, Log: logger},
		},
		Cache: mem,
		Log:   logger,
	})
	r, err := engine.Execute(ctx, dispatch.Request{
		Problem:     p,
		RouteType:   rt,
		Parallelism: req.Parallelism,
		Params:      req.AlgorithmParameters,
		Config:      req.RouteConfiguration,
	})
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{"seed": r.Report.Seed, "elapsed": r.Elapsed}).Info("solved")

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(model.OptimizeResponse{
		RunID:     r.ID,
		Seed:      r.Report.Seed,
		Rounds:    r.Report.Rounds,
		ElapsedMs: r.Elapsed.Milliseconds(),
		Solutions: r.Report.Results,
	})
}

// readRequest decodes path over the default parameters, like POST /v1/optimize does.
func readRequest(path string) (model.OptimizeRequest, error) {
	ap := opt.DefaultAlgorithmParameters()
	rc := opt.DefaultRouteConfiguration()
	req := model.OptimizeRequest{AlgorithmParameters: &ap, RouteConfiguration: &rc}
	b, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("%w: %s: %w", opt.ErrInputInvalid, path, err)
	}
	if req.AlgorithmParameters == nil {
		req.AlgorithmParameters = &ap
	}
	if req.RouteConfiguration == nil {
		req.RouteConfiguration = &rc
	}
	return req, nil
}
