package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/term"

	"github.com/k2io/remotehook"
	"github.com/k2io/remotehook/memory"
)

func findProcessByName(name string) (uint32, error) {
	processes, err := process.Processes()
	if err != nil {
		return 0, err
	}
	for _, p := range processes {
		procName, err := p.Name()
		if err == nil && strings.EqualFold(procName, name) {
			return uint32(p.Pid), nil
		}
	}
	return 0, fmt.Errorf("process not found: '%s'", name)
}

func main() {
	pid := flag.Int("pid", 0, "process id")
	name := flag.String("name", "", "process name")
	sysdir := flag.String("sysdir", "", "directory searched for module files")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <command> [args...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nCommands:\n%s", usage)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	s := &session{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
		hooks: remotehook.NewRegistry(),
		cache: remotehook.NewCache(),
		log:   logger,
	}
	req := strings.Join(flag.Args(), " ")

	// exports only reads a file
	if flag.Arg(0) == "exports" {
		if err := s.CmdExec(req); err != nil {
			s.LogError("%v", err)
			os.Exit(1)
		}
		return
	}

	if (*pid == 0) == (*name == "") {
		fmt.Fprintf(os.Stderr, "Exactly one of -pid and -name is required\n")
		flag.Usage()
		os.Exit(1)
	}
	target := uint32(*pid)
	if *name != "" {
		var err error
		target, err = findProcessByName(*name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
	}
	proc, err := memory.Open(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error attaching pid %d: %s\n", target, err)
		os.Exit(1)
	}
	s.r = memory.NewReader(proc, memory.WithSystemDir(*sysdir), memory.WithLogger(logger))
	defer s.r.Close()

	if flag.Arg(0) == "shell" {
		s.Interactive()
		return
	}
	if err := s.CmdExec(req); err != nil {
		s.LogError("%v", err)
		s.Close()
		os.Exit(1)
	}
	s.Close()
}
