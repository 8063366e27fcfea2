package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/grammar"
	"github.com/bradleyjkemp/grammar-fuzz/nautilus"
)

var (
	flagWorkdir = flag.String("workdir", ".", "dir with persistent work data")
	flagGrammar = flag.String("grammar", "", "grammar description file")
	flagBin     = flag.String("bin", "", "PUT command line; @@ is replaced with the input file")
	flagTimeout = flag.Int("timeout", 10, "test timeout, in seconds")
	flagBudget  = flag.Int("budget", 200, "node budget for generated trees")
	flagSeed    = flag.Int64("seed", 0, "RNG seed; 0 picks one from the clock")
	flagV       = flag.Int("v", 0, "verbosity level")
)

func main() {
	flag.Parse()
	if *flagGrammar == "" {
		log.Fatalf("-grammar is not set")
	}
	if *flagBin == "" {
		log.Fatalf("-bin is not set")
	}

	shutdown, shutdownCancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT)
		<-c
		shutdownCancel()
		log.Printf("shutting down...")
	}()

	gctx, start, err := grammar.LoadFile(*flagGrammar)
	if err != nil {
		log.Fatalf("failed to load grammar: %v", err)
	}
	if err := gctx.Initialize(*flagBudget); err != nil {
		log.Fatalf("failed to initialize grammar: %v", err)
	}

	seed := *flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("rng seed %v", seed)

	exec := &feedback.CommandExecutor{
		Argv:    strings.Fields(*flagBin),
		Timeout: time.Duration(*flagTimeout) * time.Second,
	}

	cfg := nautilus.DefaultConfig(*flagWorkdir)
	cfg.TreeBudget = *flagBudget
	cfg.Verbose = *flagV

	f, err := nautilus.New(cfg, gctx, start, exec, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Fatalf("failed to set up fuzzer: %v", err)
	}

	for shutdown.Err() == nil {
		if err := f.RunOnce(shutdown); err != nil && shutdown.Err() == nil {
			log.Printf("fuzz iteration failed: %v", err)
		}
	}
}
