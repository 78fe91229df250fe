// Command bindrevd ingests a dnstap client-response feed over a local
// framestream socket and serves the resulting IP-to-name reverse map
// over a TCP lookup protocol (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raincityio/dns-bindrev/internal/service"
)

func main() {
	socketPath := flag.String("socket", "/tmp/bindrev.sock", "framestream unix socket path")
	tcpAddr := flag.String("listen", "0.0.0.0:8888", "lookup server bind address")
	storePath := flag.String("store", "bindrev.db", "reverse store database file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 5*time.Second, "grace period for in-flight sessions on shutdown")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := service.Config{
		SocketPath:      *socketPath,
		TCPAddr:         *tcpAddr,
		StorePath:       *storePath,
		ShutdownTimeout: *shutdownTimeout,
	}

	if err := service.Run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "bindrevd:", err)
		os.Exit(1)
	}
}
