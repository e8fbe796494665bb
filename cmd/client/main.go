package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/NicolasHaas/gochat/pkg/client"
	"github.com/NicolasHaas/gochat/pkg/logging"
	"github.com/NicolasHaas/gochat/pkg/version"
)

func main() {
	cfg := client.Config{}
	flag.StringVar(&cfg.Addr, "addr", "localhost:9700", "Server address (host:port)")
	flag.StringVar(&cfg.CAFile, "ca", "", "PEM file with the server certificate to trust")
	flag.BoolVar(&cfg.Insecure, "insecure", false, "Skip server certificate verification")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gochat-client", version.Full())
		return
	}

	if err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	stdin := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, err := stdin.ReadString('\n')
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read username")
		os.Exit(1)
	}
	username = strings.TrimSpace(username)

	c, err := client.Dial(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to chat server @ %s: %v\n", cfg.Addr, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	addr, err := c.Login(username, promptPassword)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Now connected to chat server @ %s as %s (seen as %s)\n", cfg.Addr, username, addr)
	fmt.Println("Commands: -list, -sendto <user> <text>; anything else is broadcast.")

	if err := c.Run(stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// promptPassword reads a password without echoing it to the terminal.
func promptPassword(registering bool) (string, error) {
	if registering {
		fmt.Print("New user. Choose a password: ")
	} else {
		fmt.Print("Password: ")
	}
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
