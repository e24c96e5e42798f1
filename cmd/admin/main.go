package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roomquest.ai/internal/persistence/journal"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rooms":
			roomsCmd(os.Args[2:])
			return
		case "messages":
			messagesCmd(os.Args[2:])
			return
		case "add-room":
			addRoomCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "notify":
			notifyCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the audit journal files under the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := journal.Files(filepath.Join(*dataDir, "audit"), "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(filepath.Base(f))
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	since := fs.String("since", "", "only entries at or after this RFC3339 time")
	player := fs.String("player", "", "player id filter")
	chain := fs.String("chain", "", "chain id filter")
	action := fs.String("action", "", "action filter (TASK_COMPLETED, CHAIN_COMPLETED, REWARDS_CLAIMED, PROGRESS_RESET)")
	_ = fs.Parse(args)

	f := entryFilter{Player: *player, Chain: *chain, Action: strings.ToUpper(strings.TrimSpace(*action))}
	if s := strings.TrimSpace(*since); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
		f.Since = t
	}

	files, err := journal.Files(filepath.Join(*dataDir, "audit"), "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, path := range files {
		entries, err := journal.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
		for _, e := range f.apply(entries) {
			_ = enc.Encode(e)
		}
	}
}

type entryFilter struct {
	Since  time.Time
	Player string
	Chain  string
	Action string
}

func (f entryFilter) apply(in []journal.Entry) []journal.Entry {
	var out []journal.Entry
	for _, e := range in {
		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if f.Player != "" && e.Actor != f.Player {
			continue
		}
		if f.Chain != "" && e.Chain != f.Chain {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	return out
}
