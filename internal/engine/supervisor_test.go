package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/journal"
)

func TestSupervisorIsolatesFailingWorker(t *testing.T) {
	good := newHarness(t, "BTCUSDT", nil)
	bad := newHarness(t, "ETHUSDT", nil)
	bad.venue.panicOnPrice = true

	status := NewStatusTable([]string{"BTCUSDT", "ETHUSDT"})
	good.worker.status = status
	bad.worker.status = status

	sup := NewSupervisor([]*Worker{good.worker, bad.worker}, status, zerolog.Nop(), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := sup.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "worker panic") {
		t.Fatalf("expected the panic to surface, got %v", err)
	}

	badStatus, _ := status.Get("ETHUSDT")
	if !badStatus.Halted {
		t.Fatalf("panicking worker should be marked halted: %+v", badStatus)
	}
	goodStatus, _ := status.Get("BTCUSDT")
	if goodStatus.Halted || goodStatus.UpdatedAt.IsZero() || goodStatus.CashPrice != 100 {
		t.Fatalf("healthy worker should keep cycling: %+v", goodStatus)
	}
}

func TestSupervisorShutdownClosesOpenSpread(t *testing.T) {
	h := newHarness(t, "ETHUSDT", nil)
	h.warm(t)
	h.step(t, -6)
	if !h.worker.pos.IsOpen() {
		t.Fatalf("expected an open spread before shutdown")
	}

	sup := NewSupervisor([]*Worker{h.worker}, h.status, zerolog.Nop(), time.Second)
	if err := sup.Shutdown(); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if h.worker.pos.IsOpen() {
		t.Fatalf("shutdown must close the position")
	}
	events := h.ledger.Snapshot()
	if last := events[len(events)-1]; last.Action != journal.Close || last.Reason != "shutdown" {
		t.Fatalf("expected shutdown close event, got %+v", last)
	}
	acct := h.venue.Account()
	if acct.SpotPosition("ETHUSDT") != 0 || acct.PerpPosition("ETHUSDT") != 0 {
		t.Fatalf("venues should be flat after shutdown")
	}
}

func TestSupervisorShutdownReportsExposure(t *testing.T) {
	h := newHarness(t, "ETHUSDT", nil)
	if err := h.venue.Account().SpotFill("ETHUSDT", "BUY", 1, 100); err != nil {
		t.Fatalf("seed holding: %v", err)
	}
	h.venue.failCash = true

	sup := NewSupervisor([]*Worker{h.worker}, h.status, zerolog.Nop(), time.Second)
	if err := sup.Shutdown(); err == nil || !strings.Contains(err.Error(), ErrLiquidationFailed.Error()) {
		t.Fatalf("expected liquidation failure, got %v", err)
	}
}

func TestReporterLogsEveryInstrument(t *testing.T) {
	status := NewStatusTable([]string{"ETHUSDT", "BTCUSDT"})
	status.Update(Status{Symbol: "BTCUSDT", Position: "LONG 0.015", Signal: "ENTER_LONG", Halted: true, Error: "boom"})

	var buf bytes.Buffer
	NewReporter(status, zerolog.New(&buf), 0).Report()
	out := buf.String()
	if strings.Count(out, `"message":"status"`) != 2 {
		t.Fatalf("expected two status lines, got %s", out)
	}
	if !strings.Contains(out, "LONG 0.015") || !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("halted instrument should log at error level: %s", out)
	}
}
