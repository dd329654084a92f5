package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/compressor/internal/middleware"
	"golang.org/x/term"
)

func main() {
	subject := flag.String("subject", "", "token subject, used as the rate limit key")
	client := flag.String("client", "", "optional client name stored in the token")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -subject is required")
		flag.Usage()
		os.Exit(1)
	}
	if *ttl <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -ttl must be positive")
		os.Exit(1)
	}

	secret, err := readSecret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading secret: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.GenerateToken(secret, *subject, *client, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

// readSecret takes the signing secret from AUTH_JWTSECRET, a terminal
// prompt, or the first line of piped stdin
func readSecret() (string, error) {
	if secret := os.Getenv("AUTH_JWTSECRET"); secret != "" {
		return secret, nil
	}

	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no secret on stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
