package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qadapt/qadapt/internal/capability"
	"github.com/qadapt/qadapt/internal/device"
	"github.com/qadapt/qadapt/internal/eventbus"
	"github.com/qadapt/qadapt/internal/otel"
)

const rootUsage = `qadapt: quantum device adapter for remote execution services

USAGE:
  qadapt <command> [flags]

COMMANDS:
  run              Execute a circuit tape and print its results
  grad             Execute a tape and print its parameter-shift Jacobian
  gates            Print the capability table of a backend
  help             Show help for any command
`

const runUsage = `run FLAGS:
  -circuit.file <path>      Circuit tape JSON file (required)
  -backend.name <name>      Execution target identifier (default: local)
  -backend.endpoint <url>   Service base URL (required for remote targets)
  -exec.shots <n>           Shots per evaluation; 0 = analytic (default: 0)
  -poll.timeout <duration>  Overall polling ceiling, e.g. 2m (default: 5m)
  -otel.endpoint <addr>     OTLP collector endpoint
  -otel.service <name>      OpenTelemetry service name (default: qadapt)
`

const gradUsage = `grad FLAGS:
  (all run flags, plus)
  -grad.params <list>       Comma-separated parameter indices (default: all)
`

const gatesUsage = `gates FLAGS:
  -backend.name <name>      Execution target identifier (default: local)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("qadapt", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs, false)
	case "grad":
		return cmdRun(cmdArgs, true)
	case "gates":
		return cmdGates(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	case "grad":
		fmt.Print(gradUsage)
	case "gates":
		fmt.Print(gatesUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdRun(args []string, withGradient bool) error {
	circuitFile := ""
	backendName := "local"
	endpoint := ""
	shots := 0
	pollTimeout := 5 * time.Minute
	otelEndpoint := ""
	otelService := "qadapt"
	gradParams := ""

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&circuitFile, "circuit.file", circuitFile, "Circuit tape JSON file")
	fs.StringVar(&backendName, "backend.name", backendName, "Execution target identifier")
	fs.StringVar(&endpoint, "backend.endpoint", endpoint, "Service base URL")
	fs.IntVar(&shots, "exec.shots", shots, "Shots per evaluation")
	fs.DurationVar(&pollTimeout, "poll.timeout", pollTimeout, "Overall polling ceiling")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if withGradient {
		fs.StringVar(&gradParams, "grad.params", gradParams, "Comma-separated parameter indices")
	}
	if err := fs.Parse(args); err != nil {
		usage := runUsage
		if withGradient {
			usage = gradUsage
		}
		fmt.Fprint(os.Stderr, usage)
		return err
	}
	if circuitFile == "" {
		return fmt.Errorf("-circuit.file is required")
	}

	var tape device.Tape
	data, err := os.ReadFile(circuitFile)
	if err != nil {
		return fmt.Errorf("read tape: %w", err)
	}
	if err := json.Unmarshal(data, &tape); err != nil {
		return fmt.Errorf("parse tape: %w", err)
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	dev, err := device.New(device.Config{
		Backend:     backendName,
		Endpoint:    endpoint,
		Shots:       shots,
		PollTimeout: pollTimeout,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if !withGradient {
		tensors, err := dev.Execute(ctx, tape)
		if err != nil {
			return err
		}
		for i, t := range tensors {
			fmt.Printf("result[%d] = %v\n", i, t.Values)
		}
		return nil
	}

	params, err := parseParams(gradParams)
	if err != nil {
		return err
	}
	tensors, jac, err := dev.ExecuteAndGradient(ctx, tape, params)
	if err != nil {
		return err
	}
	for i, t := range tensors {
		fmt.Printf("result[%d] = %v\n", i, t.Values)
	}
	for r, row := range jac {
		fmt.Printf("jacobian[%d] = %v\n", r, row)
	}
	return nil
}

func cmdGates(args []string) error {
	backendName := "local"
	fs := flag.NewFlagSet("gates", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&backendName, "backend.name", backendName, "Execution target identifier")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, gatesUsage)
		return err
	}
	dev, ok := capability.Lookup(backendName)
	if !ok {
		return fmt.Errorf("unknown backend %q (known: %s)", backendName, strings.Join(capability.Names(), ", "))
	}
	fmt.Printf("backend %s: max qubits %d, analytic %v, simulator %v\n",
		dev.Name, dev.MaxQubits, dev.Analytic, dev.Simulator)
	for _, name := range dev.Gates() {
		g, _ := dev.Gate(name)
		line := fmt.Sprintf("  %-12s → %-12s wires=%d params=%d", g.Name, g.Target, g.Wires, g.Params)
		if g.Shift != nil {
			line += fmt.Sprintf(" shift=%.6f scale=%g", g.Shift.Shift, g.Shift.Scale)
		}
		fmt.Println(line)
	}
	return nil
}

func parseParams(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid parameter index %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
