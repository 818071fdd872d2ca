// Command pbftctl is an interactive REPL for exploring an in-process pbft
// cluster: submit client requests, force view changes, and inspect each
// replica's state, without needing a real multi-process deployment.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cerera/pbft/config"
	"github.com/cerera/pbft/internal/cluster"
	"github.com/cerera/pbft/internal/logger"
	"github.com/cerera/pbft/pbft"
)

func usage() string {
	return strings.Join([]string{
		"commands:",
		"  submit <client> <op...>   submit a client request, print replies",
		"  viewchange                force every replica to start a view change",
		"  status                    print each replica's view/seqno/stable/halted",
		"  help                      show this text",
		"  exit                      quit",
	}, "\n")
}

func main() {
	fs := flag.NewFlagSet("pbftctl", flag.ExitOnError)
	build := config.FromFlags(fs)
	fs.Parse(os.Args[1:])

	cfg := build()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pbftctl: invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{Level: cfg.LogLevel, Console: false})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbftctl: logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	c, err := cluster.New(cfg, pbft.IdentityApplication{}, pbft.AlwaysValidSigner{}, reg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbftctl: failed to build cluster: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pbftctl: cluster of %d replicas ready (f=%d)\n", cfg.R, cfg.F())

	rl, err := readline.New("pbft> ")
	if err != nil {
		panic(err)
	}
	defer rl.Close()

	var clientSeq int
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF, readline.ErrInterrupt
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "submit":
			if len(fields) < 3 {
				fmt.Println("usage: submit <client> <op...>")
				continue
			}
			client := fields[1]
			op := strings.Join(fields[2:], " ")
			clientSeq++
			replies, err := c.Submit([]byte(op), client, float64(clientSeq))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if len(replies) == 0 {
				fmt.Println("no reply yet (request still in flight)")
				continue
			}
			fmt.Printf("%d repl%s: %q\n", len(replies), plural(len(replies)), replies[0].Result)
		case "viewchange":
			if err := c.ForceViewChange(); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("view change requested")
		case "status":
			for _, rep := range c.Replicas() {
				fmt.Println(" " + rep.String())
			}
		case "help":
			fmt.Println(usage())
		case "exit", "quit":
			return
		default:
			fmt.Println("unknown command, type help")
		}
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
