// Package main is the entry point for the rendezvous load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - churn: Join/disconnect churn test exercising pool turnover
//   - match: Matching flow load test where pairs join, handshake, and confirm P2P
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "churn":
		runChurn(os.Args[2:])
	case "match":
		runMatch(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  churn    Join/disconnect churn test measuring pool turnover")
	fmt.Println("  match    Matching flow load test: pairs join, exchange signals, confirm P2P")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
