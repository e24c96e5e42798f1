package main

import (
	"path/filepath"
	"testing"
	"time"

	"roomquest.ai/internal/persistence/journal"
)

func TestEntryFilter(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []journal.Entry{
		{Time: t0, Actor: "p1", Chain: "newbie", Action: journal.ActionTaskCompleted, Task: 1},
		{Time: t0.Add(time.Hour), Actor: "p2", Chain: "newbie", Action: journal.ActionTaskCompleted, Task: 1},
		{Time: t0.Add(2 * time.Hour), Actor: "p1", Chain: "newbie", Action: journal.ActionChainCompleted},
		{Time: t0.Add(3 * time.Hour), Actor: "p1", Chain: "chat-master", Action: journal.ActionProgressReset},
	}

	if got := (entryFilter{}).apply(in); len(got) != 4 {
		t.Fatalf("empty filter kept %d", len(got))
	}
	if got := (entryFilter{Player: "p1", Chain: "newbie"}).apply(in); len(got) != 2 {
		t.Fatalf("player+chain kept %+v", got)
	}
	got := (entryFilter{Since: t0.Add(90 * time.Minute), Action: journal.ActionChainCompleted}).apply(in)
	if len(got) != 1 || got[0].Action != journal.ActionChainCompleted {
		t.Fatalf("since+action kept %+v", got)
	}
}

func TestEntryFilter_ReadsJournal(t *testing.T) {
	dir := t.TempDir()
	l := journal.NewAuditLogger(dir)
	for _, e := range []journal.Entry{
		{Time: time.Now().UTC(), Actor: "p1", Chain: "newbie", Action: journal.ActionTaskCompleted, Task: 1},
		{Time: time.Now().UTC(), Actor: "p2", Chain: "newbie", Action: journal.ActionRewardsClaimed},
	} {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := journal.Files(filepath.Join(dir, "audit"), "audit")
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var n int
	for _, f := range files {
		entries, err := journal.ReadFile(f)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		n += len((entryFilter{Player: "p2"}).apply(entries))
	}
	if n != 1 {
		t.Fatalf("p2 entries=%d", n)
	}
}
