// Command ops holds maintenance tasks for the authentication server.
//
//	ops sweep           archive and delete expired OTP and session rows once
//	ops hash-password   read a password from the terminal and print salt and hash
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ops <sweep|hash-password> [-c config.yaml]")
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "sweep":
		err = runSweep(ctx, os.Stdout)
	case "hash-password":
		err = runHashPassword(newTerminalPrompt(), os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
