package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/position"
)

func TestJSONLRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "trades.jsonl")

	recorder, err := NewJSONLRecorder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	entry := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res := position.Result{
		Symbol: "BTCUSDT", Side: position.Long, Size: 10,
		CashEntryPrice: 100, CashExitPrice: 102, DerivativeEntryPrice: 101, DerivativeExitPrice: 100,
		CashPnL: 20, DerivativePnL: 10, Fee: 1.612, NetPnL: 28.388,
		EntryTime: entry, ExitTime: entry.Add(90 * time.Minute), Holding: 90 * time.Minute,
	}
	ev := NewCloseEvent(res, "exit")
	recorder.Record(ev)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	recorder.Record(ev)

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded Event
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Action != Close || decoded.Side != position.Long {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
	if decoded.HoldingMinutes != 90 || decoded.NetPnL != 28.388 {
		t.Fatalf("unexpected pnl fields: %+v", decoded)
	}
	if scanner.Scan() {
		t.Fatalf("records after Close must be dropped")
	}
}

func TestToRowCarriesExitOnlyForCloses(t *testing.T) {
	open := NewOpenEvent("ETHUSDT", position.Position{Side: position.Short, Size: 2, CashEntryPrice: 3000, DerivativeEntryPrice: 2990, EntryTime: time.Now()}, 4, 1, "enter")
	if row := toRow(open); row.ExitTime != nil || row.Action != "OPEN" || row.Side != "SHORT" {
		t.Fatalf("unexpected open row: %+v", row)
	}
	if open.ID == "" {
		t.Fatalf("events need an id")
	}

	closeEv := NewCloseEvent(position.Result{Symbol: "ETHUSDT", Side: position.Short, ExitTime: time.Now()}, "exit")
	if row := toRow(closeEv); row.ExitTime == nil || row.Action != "CLOSE" {
		t.Fatalf("unexpected close row: %+v", row)
	}
}
