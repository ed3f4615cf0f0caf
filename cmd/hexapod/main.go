package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/hexapod/hexsim"
	"github.jpl.nasa.gov/bdube/hexapod/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "hexapod.yml"
	k              = koanf.New(".")
)

// Config is the process configuration.  Durations are in seconds.
type Config struct {
	// Addr is host:port of the controller, or a device path if Serial
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial selects RS-232 instead of TCP
	Serial bool `koanf:"Serial" yaml:"Serial"`
	Baud   int  `koanf:"Baud" yaml:"Baud"`

	// Timeout bounds each reply line read
	Timeout        float64 `koanf:"Timeout" yaml:"Timeout"`
	ConnectTimeout float64 `koanf:"ConnectTimeout" yaml:"ConnectTimeout"`

	PollInterval     float64 `koanf:"PollInterval" yaml:"PollInterval"`
	MoveTimeout      float64 `koanf:"MoveTimeout" yaml:"MoveTimeout"`
	ReferenceTimeout float64 `koanf:"ReferenceTimeout" yaml:"ReferenceTimeout"`

	// TelemetryInterval is the time between telemetry samples, 0 disables
	// telemetry
	TelemetryInterval    float64 `koanf:"TelemetryInterval" yaml:"TelemetryInterval"`
	MaxTelemetryFailures int     `koanf:"MaxTelemetryFailures" yaml:"MaxTelemetryFailures"`

	// MaskWidth is the number of flags in a status bitmask
	MaskWidth int `koanf:"MaskWidth" yaml:"MaskWidth"`

	// HTTPAddr is the address the HTTP server listens at
	HTTPAddr string `koanf:"HTTPAddr" yaml:"HTTPAddr"`

	// Endpoint is the URL stem the hexapod routes are served under
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// SimAddr is the address the simulator listens at
	SimAddr string `koanf:"SimAddr" yaml:"SimAddr"`

	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`
}

func defaultConfig() Config {
	return Config{
		Addr:                 "127.0.0.1:50000",
		Baud:                 115200,
		Timeout:              3,
		ConnectTimeout:       3,
		PollInterval:         0.1,
		MoveTimeout:          60,
		ReferenceTimeout:     180,
		TelemetryInterval:    1,
		MaxTelemetryFailures: 5,
		MaskWidth:            6,
		HTTPAddr:             ":8000",
		Endpoint:             "/hexapod",
		SimAddr:              ":50000",
		LogLevel:             "info"}
}

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		logrus.Fatal(err)
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(lvl)
	return c
}

func root() {
	str := `hexapod drives a PI hexapod over GCS2 and exposes an HTTP interface to it.
It can also simulate a hexapod for testing without hardware.

Usage:
	hexapod <command>

Commands:
	run
	sim
	home
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `hexapod is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

mkconf writes the defaults to hexapod.yml, conf prints the configuration in
effect.  Durations are given in seconds.

run connects to Addr and serves the HTTP interface at HTTPAddr under
Endpoint, with telemetry as prometheus metrics at /metrics.

sim serves a simulated hexapod at SimAddr; point Addr at it to use it.

home references the hexapod and waits for all six axes to be referenced.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		logrus.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("hexapod version %v\n", Version)
}

// interrupted returns a context cancelled on ^C
func interrupted() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func run() {
	c := loadconfig()
	ctx, cancel := interrupted()
	defer cancel()
	dev, err := Connect(ctx, c)
	if err != nil {
		logrus.Fatal(err)
	}
	defer dev.Client.Disconnect()

	go dev.RunTelemetry(ctx, c)

	srv := &http.Server{Addr: c.HTTPAddr, Handler: BuildMux(c, dev)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logrus.WithField("addr", c.HTTPAddr).Info("now listening for requests")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Fatal(err)
	}
}

func sim() {
	c := loadconfig()
	s := hexsim.NewServer(hexsim.NewDevice(hexsim.DefaultConfig()))
	ctx, cancel := interrupted()
	defer cancel()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	if err := s.ListenAndServe(c.SimAddr); err != nil {
		logrus.Fatal(err)
	}
}

func home() {
	c := loadconfig()
	ctx, cancel := interrupted()
	defer cancel()
	dev, err := Connect(ctx, c)
	if err != nil {
		logrus.Fatal(err)
	}
	defer dev.Client.Disconnect()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " referencing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"}})
	if err != nil {
		logrus.Fatal(err)
	}
	spinner.Start()
	start := time.Now()
	err = dev.Controller.Reference(ctx)
	if err == nil {
		spinner.Message("waiting for all axes")
		err = dev.Controller.WaitReferenced(ctx)
	}
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("done in %.1f s", time.Since(start).Seconds()))
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "sim":
		sim()
	case "home":
		home()
	case "version":
		pversion()
	default:
		logrus.Fatal("unknown command")
	}
}

// seconds converts a config duration
func seconds(f float64) time.Duration {
	return util.SecsToDuration(f)
}
