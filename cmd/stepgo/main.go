package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
	"github.com/cjeanneret/StepGo/internal/hw/stepper"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/logic/controller"
	"github.com/cjeanneret/StepGo/internal/logic/motion"
	"github.com/cjeanneret/StepGo/internal/web"
)

// defaultOutput is used when neither the config nor -out names a sink.
const defaultOutput = "stepgo.fiq"

// cliOverrides holds command-line values that take precedence over the
// config file. Empty values keep the config.
type cliOverrides struct {
	input    string
	output   string
	compress bool
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	input := flag.String("in", "", "G-code job to run before the prompt")
	output := flag.String("out", "", "pulse record output (file path or device)")
	compressOut := flag.Bool("compress", false, "zlib-compress the file output")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cancel, *cfgPath, webPort.port(), cliOverrides{input: *input, output: *output, compress: *compressOut})
	cancel()
	if err != nil {
		log.Fatal(err)
	}
}

// run wires the controller and blocks until it exits. Deferred cleanup
// (motors off, GPIO released) always runs before the error is reported.
func run(ctx context.Context, cancel context.CancelFunc, cfgPath string, webPort int, o cliOverrides) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := applyOverrides(cfg, o); err != nil {
		return errors.Wrap(err, "invalid CLI override")
	}

	debug.Init(cfg.Defaults.DebugLevel)
	for _, w := range cfg.Warnings {
		debug.Warn("%s", w)
	}
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return errors.Wrap(err, "init GPIO")
	}
	defer func() {
		if cerr := gpioDriver.Close(); cerr != nil {
			debug.Error(errors.Wrap(cerr, "closing GPIO driver"))
		}
	}()

	debug.Step(2, "Initializing motor drivers")
	board := stepper.NewBoard(gpioDriver, boardConfig(cfg))
	for m, mc := range cfg.Motors {
		debug.PrintStruct("Motor "+fiq.MotorNames[m], mc)
	}
	motors := motion.NewController(board)
	defer func() {
		if derr := motors.DisableMotors(); derr != nil {
			debug.Error(derr)
		}
	}()

	debug.Step(3, "Initializing controller")
	var publisher *web.StatusBroadcaster
	if webPort > 0 {
		publisher = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(publisher)))
	}
	opts := controller.Options{Console: os.Stdin, Response: os.Stdout}
	if publisher != nil {
		opts.Publisher = publisher
	}
	ctrl, err := controller.New(cfg, controller.Hardware{
		GPIO:   gpioDriver,
		Motors: motors,
		Clock:  systick.NewWall(),
	}, opts)
	if err != nil {
		return errors.Wrap(err, "init controller")
	}
	debug.Value("Input", cfg.Input)
	debug.Value("Output", cfg.Output.Kind+" "+cfg.Output.Path)

	if webPort > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", webPort), publisher, ctrl.Reporter(), ctrl)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Error(err)
				cancel()
			}
		}()
	}

	debug.Section("Running")
	return errors.Wrap(ctrl.Run(ctx), "controller")
}

// applyOverrides mutates cfg with the command-line values and fills the
// default output path.
func applyOverrides(cfg *config.Config, o cliOverrides) error {
	if o.input != "" {
		cfg.Input = o.input
	}
	if o.output != "" {
		cfg.Output.Path = o.output
	}
	if o.compress {
		if cfg.Output.Kind != config.OutputFile {
			return errors.Errorf("-compress needs file output, got %q", cfg.Output.Kind)
		}
		cfg.Output.Compress = true
	}
	if cfg.Output.Path == "" && cfg.Output.Kind == config.OutputFile {
		cfg.Output.Path = defaultOutput
	}
	return nil
}

// boardConfig maps the motor section of the config to driver wiring.
func boardConfig(cfg *config.Config) []stepper.Config {
	out := make([]stepper.Config, len(cfg.Motors))
	for m, mc := range cfg.Motors {
		out[m] = stepper.Config{EnablePin: mc.EnablePin, MSPins: cfg.MSPins(m)}
	}
	return out
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
