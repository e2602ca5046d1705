// Command hash-ops-token derives the pbkdf2 hash for an ops API token so the
// plaintext token never has to appear in service configuration.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"voiceloft/internal/ops"
)

func main() {
	var token string
	flag.StringVar(&token, "token", "", "token to hash (reads stdin when omitted)")
	flag.Parse()

	if token == "" {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fatalf("read token from stdin: %v", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		fatalf("a token is required")
	}

	hash, err := ops.HashToken(token)
	if err != nil {
		fatalf("hash token: %v", err)
	}
	fmt.Println(hash)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
