package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/adapterlab/dapbridge/adapter"
	"github.com/adapterlab/dapbridge/log"
)

// install: go install ./cmd/dapbridge
const help = `
dapbridge DAP adapter for line-protocol debugger backends

Usage: dapbridge [OPTIONS]

Available commands:
  help                               show help message

Options:
  --listen <addr>                    serve DAP over TCP instead of stdio
  --log-level <level>                debug, info, warn or error (default: info)
  --log-stderr                       log to stderr instead of ~/.dapbridge/dapbridge.log
  --help   show help message
`

func main() {
	if err := handle(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handle(args []string) error {
	if len(args) > 0 && args[0] == "help" {
		fmt.Println(strings.TrimSpace(help))
		return nil
	}

	var listen string
	var logLevel string
	var logStderr bool
	n := len(args)
	for i, arg := range args {
		switch arg {
		case "--listen":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			listen = args[i+1]
		case "--log-level":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			logLevel = args[i+1]
		case "--log-stderr":
			logStderr = true
		case "-h", "--help":
			fmt.Println(strings.TrimSpace(help))
			return nil
		}
	}

	// stdout belongs to the DAP stream in stdio mode, so logs go to a file
	// unless stderr was asked for.
	if logStderr {
		log.Init(os.Stderr, logLevel)
	} else {
		file, err := log.OpenFile()
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer file.Close()
		log.Init(file, logLevel)
	}
	logger := log.New("main")

	if listen == "" {
		logger.Info().Msg("serving DAP on stdio")
		a := adapter.NewAdapter(adapter.Options{})
		a.Serve(stdio{})
		return nil
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	logger.Info().Str("addr", listen).Msg("serving DAP on tcp")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		logger.Info().Str("client", conn.RemoteAddr().String()).Msg("client connected")
		go adapter.NewAdapter(adapter.Options{}).Serve(conn)
	}
}

// stdio adapts stdin/stdout to the ReadWriteCloser Serve expects.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
