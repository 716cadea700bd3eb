package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"dancepartner/internal/control"
)

// ============================================================================
// partner-ctl - Command-line IPC Client
// ============================================================================
// Sends control actions to the partnerd daemon over its unix socket.
//
// Usage:
//   partner-ctl recall 0.5
//   partner-ctl weight improvise 2
//   partner-ctl recency 30
//   partner-ctl save warmup
//   partner-ctl load warmup
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/partnerd.sock)
// ============================================================================

const defaultSocket = "/tmp/partnerd.sock"

var errUsage = errors.New("usage")

func main() {
	socketPath := defaultSocket

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	}

	action, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			printUsage()
		}
		os.Exit(1)
	}

	if err := control.SendAction(socketPath, action); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

// parseCommand maps a command line to a control action.
func parseCommand(args []string) (control.Action, error) {
	cmd, rest := args[0], args[1:]

	number := func(what string) (float64, error) {
		if len(rest) < 1 {
			return 0, fmt.Errorf("%s requires a value: %w", cmd, errUsage)
		}
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %v", what, err)
		}
		return v, nil
	}
	onOff := func() (bool, error) {
		if len(rest) < 1 {
			return false, fmt.Errorf("%s requires on or off: %w", cmd, errUsage)
		}
		switch rest[0] {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		default:
			return false, fmt.Errorf("invalid switch value %q (must be on or off)", rest[0])
		}
	}

	switch cmd {
	case "recall", "recall-amount":
		v, err := number("amount")
		return control.SetRecallAmount{Amount: v}, err

	case "io", "io-blending":
		v, err := number("amount")
		return control.SetIOBlending{Amount: v}, err

	case "novelty":
		v, err := number("novelty")
		return control.SetNovelty{Novelty: v}, err

	case "extension":
		v, err := number("extension")
		return control.SetExtension{Extension: v}, err

	case "velocity":
		v, err := number("velocity")
		return control.SetVelocity{Velocity: v}, err

	case "memorize":
		on, err := onOff()
		return control.SetMemorize{On: on}, err

	case "input-only":
		on, err := onOff()
		return control.SetInputOnly{On: on}, err

	case "auto-switch":
		on, err := onOff()
		return control.SetAutoSwitch{On: on}, err

	case "auto-friction":
		on, err := onOff()
		return control.SetAutoFriction{On: on}, err

	case "weight":
		if len(rest) < 2 {
			return nil, fmt.Errorf("weight requires a mode and a value: %w", errUsage)
		}
		w, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight: %v", err)
		}
		return control.SetWeight{Mode: rest[0], Weight: w}, nil

	case "duration":
		if len(rest) < 2 {
			return nil, fmt.Errorf("duration requires a mode and seconds: %w", errUsage)
		}
		sec, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %v", err)
		}
		return control.SetModeDuration{Mode: rest[0], Seconds: sec}, nil

	case "recency":
		v, err := number("seconds")
		return control.SetRecallRecency{Seconds: v}, err

	case "recency-bias":
		v, err := number("bias")
		return control.SetRecencyBias{Bias: v}, err

	case "reverse":
		v, err := number("probability")
		return control.SetReverseProbability{Probability: v}, err

	case "confinement":
		on, err := onOff()
		return control.SetConfinement{On: on}, err

	case "reset", "reset-translation":
		return control.ResetTranslation{}, nil

	case "clear", "clear-memory":
		return control.ClearMemory{}, nil

	case "save":
		var name string
		if len(rest) > 0 {
			name = rest[0]
		}
		return control.SaveMemory{Name: name}, nil

	case "load":
		if len(rest) < 1 {
			return nil, fmt.Errorf("load requires a recording id or name: %w", errUsage)
		}
		return control.LoadMemory{Ref: rest[0]}, nil

	default:
		return nil, fmt.Errorf("unknown command %s: %w", cmd, errUsage)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `partner-ctl - Control the partnerd daemon via IPC

Usage:
  partner-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  recall <0..1>                   Recall amount (blend strategy)
  io <0..1>                       Live input vs behavior mix
  novelty <n>                     Improvise novelty
  extension <n>                   Improvise extension
  velocity <n>                    Improvise velocity (> 0)
  memorize on|off                 Record live input into memory
  input-only on|off               Echo live input only
  auto-switch on|off              Oscillate the recall amount
  auto-friction on|off            Derive friction from the active behavior
  weight <mode> <w>               Switching weight (mirror, improvise, recall)
  duration <mode> <sec>           Switching dwell of a mode
  recency <sec>                   Recent window for biased recalls
  recency-bias <0..1>             Chance a recall comes from the recent window
  reverse <0..1>                  Chance a recall plays backwards
  confinement on|off              Pull the output back toward the target
  reset                           Re-anchor output translation at the origin
  clear                           Clear memory
  save [name]                     Save memory as a recording
  load <id|name>                  Replace memory with a saved recording
  help, -h, --help                Show this help message

Examples:
  partner-ctl weight recall 0
  partner-ctl save warmup
  partner-ctl -socket /run/partnerd.sock memorize off
`, defaultSocket)
}
