package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"meshledger/commands"
	"meshledger/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	simulateCmd := flag.NewFlagSet("simulate", flag.ExitOnError)
	duration := simulateCmd.Duration("duration", 0, "How long to run; defaults to the configured simulation length")
	registerGlobalFlags(simulateCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)
	registerGlobalFlags(verifyCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	registerGlobalFlags(serveCmd)

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	registerGlobalFlags(syncCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand: init, simulate, info, verify, serve or sync")
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		if _, statErr := os.Stat(*configFile); statErr == nil {
			cfg = loadConfig(*configFile)
		}
		err = commands.RunInit(ctx, cfg)
	case "simulate":
		simulateCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		err = commands.RunSimulate(ctx, loadConfig(*configFile), *duration)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		err = commands.RunInfo(ctx, loadConfig(*configFile))
	case "verify":
		verifyCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		err = commands.RunVerify(ctx, loadConfig(*configFile))
	case "serve":
		serveCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		err = commands.RunServe(ctx, loadConfig(*configFile))
	case "sync":
		syncCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		err = commands.RunSync(ctx, loadConfig(*configFile), syncCmd.Args())
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
