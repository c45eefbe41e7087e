// bounce - encrypted TCP forwarder: publish a service that runs behind a
// firewall through a publicly reachable server.
//
// Usage:
//
//	bounce server <public_port> <adapter_port> <key_b64>
//	bounce client <bounce_host:port> <dest_host:port> <key_b64>
//	bounce keys
//
// or entirely via environment variables (BOUNCE_MODE plus the per-mode
// variables read in runServer/runClient). Grounded on the teacher's xs.go/hkexshd.go flag-based
// main plus original_source/src/main.rs's env/args dual dispatch.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	isatty "github.com/mattn/go-isatty"

	"blitter.com/go/bounce/internal/blog"
	"blitter.com/go/bounce/internal/bouncekey"
	"blitter.com/go/bounce/internal/bounceclient"
	"blitter.com/go/bounce/internal/bounceserver"
)

var (
	version   string // set via -ldflags at build time
	gitCommit string // set via -ldflags at build time
)

func main() {
	transport := flag.String("transport", "tcp", "adapter-port transport: tcp or kcp")
	timeout := flag.Duration("timeout", 500*time.Millisecond, "handshake per-exchange timeout")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bounce %s (%s)\n", version, gitCommit)
		return
	}

	blog.SetLevel(blog.ParseLevel(os.Getenv("BOUNCE_LOG")))
	if err := blog.Init("bounce"); err != nil {
		fmt.Fprintf(os.Stderr, "bounce: starting logger: %v\n", err)
	}
	defer blog.Close()

	mode, args := parseModeAndArgs()

	switch mode {
	case "server":
		runServer(args, *transport, *timeout)
	case "client":
		runClient(args, *transport, *timeout)
	case "keys":
		runKeys()
	default:
		fmt.Fprintf(os.Stderr, "bounce: unknown mode %q\n", mode)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  bounce server <public_port> <adapter_port> <key_b64>")
	fmt.Fprintln(os.Stderr, "  bounce client <bounce_host:port> <dest_host:port> <key_b64>")
	fmt.Fprintln(os.Stderr, "  bounce keys")
}

// parseModeAndArgs implements spec.md §6's dual CLI/env dispatch:
// BOUNCE_MODE short-circuits argv parsing exactly as the original Rust
// main's var("BOUNCE_MODE") does.
func parseModeAndArgs() (mode string, args []string) {
	if envMode := os.Getenv("BOUNCE_MODE"); envMode != "" {
		return envMode, nil
	}
	rest := flag.Args()
	if len(rest) == 0 {
		usage()
		os.Exit(1)
	}
	return rest[0], rest[1:]
}

func runKeys() {
	k, err := bouncekey.Generate()
	if err != nil {
		blog.Fatalf("bounce: generating key: %v", err)
	}
	encoded := k.String()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\033[1m%s\033[0m\n", encoded)
	} else {
		fmt.Println(encoded)
	}
}

func runServer(args []string, transport string, timeout time.Duration) {
	publicPort := os.Getenv("BOUNCE_PORT")
	adapterPort := os.Getenv("BOUNCE_ADAPTER_PORT")
	keyB64 := os.Getenv("BOUNCE_KEY")

	if len(args) >= 3 {
		publicPort, adapterPort, keyB64 = args[0], args[1], args[2]
	}
	if publicPort == "" || adapterPort == "" || keyB64 == "" {
		blog.Fatalf("bounce server: missing public_port/adapter_port/key (args or BOUNCE_PORT/BOUNCE_ADAPTER_PORT/BOUNCE_KEY)")
	}

	if _, err := strconv.Atoi(publicPort); err != nil {
		blog.Fatalf("bounce server: bad public_port %q: %v", publicPort, err)
	}
	if _, err := strconv.Atoi(adapterPort); err != nil {
		blog.Fatalf("bounce server: bad adapter_port %q: %v", adapterPort, err)
	}
	key, err := bouncekey.Parse(keyB64)
	if err != nil {
		blog.Fatalf("bounce server: bad key: %v", err)
	}

	srv := bounceserver.New(bounceserver.Config{
		PublicAddr:  ":" + publicPort,
		AdapterAddr: ":" + adapterPort,
		Key:         key,
		Timeout:     timeout,
		Transport:   transport,
	})

	installSignalCancel(srv.Cancel)

	if err := srv.Serve(); err != nil && !errors.Is(err, bounceserver.ErrInterrupted) {
		blog.Fatalf("bounce server: %v", err)
	}
}

func runClient(args []string, transport string, timeout time.Duration) {
	serverAddr := os.Getenv("BOUNCE_SERVER")
	destAddr := os.Getenv("BOUNCE_DESTINATION_HOST")
	keyB64 := os.Getenv("BOUNCE_KEY")

	if len(args) >= 3 {
		serverAddr, destAddr, keyB64 = args[0], args[1], args[2]
	}
	if serverAddr == "" || destAddr == "" || keyB64 == "" {
		blog.Fatalf("bounce client: missing bounce_server/destination/key (args or BOUNCE_SERVER/BOUNCE_DESTINATION_HOST/BOUNCE_KEY)")
	}

	key, err := bouncekey.Parse(keyB64)
	if err != nil {
		blog.Fatalf("bounce client: bad key: %v", err)
	}

	cli := bounceclient.New(bounceclient.Config{
		ServerAddr: serverAddr,
		DestAddr:   destAddr,
		Key:        key,
		Timeout:    timeout,
		Transport:  transport,
	})

	installSignalCancel(cli.Cancel)

	if err := cli.Run(); err != nil && !errors.Is(err, bounceclient.ErrInterrupted) {
		blog.Fatalf("bounce client: %v", err)
	}
}

// installSignalCancel calls cancel() on SIGINT/SIGTERM, so an operator's
// Ctrl-C unwinds the accept/reconnect loop the same way a programmatic
// Cancel() would (spec.md §7's Interrupted kind: "All loops unwind;
// process exits cleanly").
func installSignalCancel(cancel func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
}
