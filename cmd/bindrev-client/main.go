// Command bindrev-client looks up names for one or more IP addresses
// against a running bindrevd lookup server (spec.md §6). With
// positional arguments it looks up each and exits non-zero if any are
// unknown; with -loop it reads one IP per line from stdin until EOF.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raincityio/dns-bindrev/internal/lookup"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "bindrevd lookup server address")
	loop := flag.Bool("loop", false, "read IPs one per line from stdin instead of positional args")
	flag.Parse()

	client, err := lookup.Dial(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bindrev-client:", err)
		os.Exit(1)
	}
	defer client.Close()

	if *loop {
		runLoop(client)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "bindrev-client: specify one or more IPs, or pass -loop")
		os.Exit(1)
	}

	exitCode := 0
	for _, ip := range args {
		name, ok, err := client.Get(ip)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitCode = 1
			continue
		}
		if !ok {
			fmt.Printf("%s: unknown ip\n", ip)
			exitCode = 1
			continue
		}
		fmt.Printf("%s: %s\n", ip, name)
	}
	os.Exit(exitCode)
}

func runLoop(client *lookup.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, ok, err := client.Get(line)
		switch {
		case err != nil:
			fmt.Println(err)
		case !ok:
			fmt.Println("unknown ip:", line)
		default:
			fmt.Println(name)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		fmt.Fprintln(os.Stderr, "bindrev-client:", err)
	}
}
