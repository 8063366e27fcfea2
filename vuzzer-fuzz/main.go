package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/vuzzer"
)

var (
	flagConfig   = flag.String("config", "", "settings file")
	flagBin      = flag.String("bin", "", "PUT command line under the coverage probe; @@ is replaced with the input file")
	flagTaintBin = flag.String("taintbin", "", "PUT command line under the taint probe (defaults to -bin)")
	flagTimeout  = flag.Int("timeout", 10, "test timeout, in seconds")
	flagSeed     = flag.Int64("seed", 0, "RNG seed; 0 picks one from the clock")
)

func main() {
	flag.Parse()
	if *flagConfig == "" {
		log.Fatalf("-config is not set")
	}
	if *flagBin == "" {
		log.Fatalf("-bin is not set")
	}
	if *flagTaintBin == "" {
		*flagTaintBin = *flagBin
	}

	setting, err := vuzzer.LoadSetting(*flagConfig)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	seed := *flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("rng seed %v", seed)

	timeout := time.Duration(*flagTimeout) * time.Second
	exec := &feedback.CommandExecutor{Argv: strings.Fields(*flagBin), Timeout: timeout}
	taintExec := &feedback.CommandExecutor{Argv: strings.Fields(*flagTaintBin), Timeout: timeout}

	state, err := vuzzer.NewState(setting, exec, taintExec, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Fatalf("failed to set up state: %v", err)
	}

	// The handler only sets a flag; cleanup happens at the next loop boundary.
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT)
	go func() {
		<-c
		state.ReceiveStopSignal()
		log.Printf("shutting down...")
	}()

	if err := state.ReadTestcases(setting.InDir); err != nil {
		log.Fatalf("failed to read seeds: %v", err)
	}
	if err := state.PerformDryRun(); err != nil {
		log.Fatalf("dry run failed: %v", err)
	}
	if n := setting.PopSize - len(state.PendingQueue); n > 0 {
		if err := state.FillSeeds(n); err != nil {
			log.Fatalf("failed to fill seeds: %v", err)
		}
	}

	for !state.Stopped() {
		if err := state.OneLoop(); err != nil {
			log.Printf("fuzz iteration failed: %v", err)
		}
	}
}
