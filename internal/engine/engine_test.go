package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kis-core/execution/internal/exposure"
	"github.com/kis-core/execution/internal/fsm"
	"github.com/kis-core/execution/internal/regime"
	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/ticksize"
)

func TestBuildSubscribeFrame_TickSubscribe(t *testing.T) {
	raw, err := buildSubscribeFrame("approval-123", "P", 3, "005930")
	if err != nil {
		t.Fatalf("buildSubscribeFrame: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	header := decoded["header"].(map[string]any)
	if header["approval_key"] != "approval-123" || header["tr_type"] != "1" {
		t.Errorf("unexpected header: %+v", header)
	}
	body := decoded["body"].(map[string]any)
	input := body["input"].(map[string]any)
	if input["tr_id"] != "H0STCNT0" || input["tr_key"] != "005930" {
		t.Errorf("unexpected input: %+v", input)
	}
}

func TestBuildSubscribeFrame_UnknownCommand(t *testing.T) {
	if _, err := buildSubscribeFrame("k", "P", 99, "005930"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func newTestEngine() *Engine {
	registry := NewRegistry()
	exp := exposure.New(map[string]string{"005930": "IT"}, exposure.DefaultConfig())
	return &Engine{
		registry: registry,
		machine:  fsm.NewMachine(ticksize.NewDefaultTable(), fsm.DefaultSwitches()),
		exposure: exp,
		regime:   regime.NewTracker(regime.DefaultAlpha),
	}
}

func TestDriveOnce_WaitAcceptanceWithoutReclaimLeavesValidPhase(t *testing.T) {
	e := newTestEngine()
	st := symbolstate.New("005930", "IT", 70000, 69000, 69500)
	st.SetTrendOK(true)
	st.SetPhase(symbolstate.Candidate)
	st.LockOR()
	for i := 0; i < 5; i++ {
		st.UpdateOR(70500)
	}
	st.SetPhase(symbolstate.WatchBreak)
	now := time.Now()
	st.UpdateBreak(now)
	st.SetPhase(symbolstate.WaitAcceptance)
	st.UpdateRetestLow(70400) // OR was locked before UpdateOR, so OR high stays 0
	e.registry.Add(st)

	// Lower the retest low once more; LastPrice is unset, so this drive tick
	// does not reclaim OR high.
	snap := st.Snapshot()
	st.UpdateRetestLow(snap.ORHigh - 1)

	e.driveOnce(now.Add(time.Second), now.Add(-10*time.Minute))

	if st.Phase() != symbolstate.WaitAcceptance && st.Phase() != symbolstate.Armed && st.Phase() != symbolstate.Done {
		t.Fatalf("unexpected phase after drive: %s", st.Phase())
	}
}

func TestArmSymbol_BlockedBySectorExposure(t *testing.T) {
	e := newTestEngine()
	cfg := exposure.DefaultConfig()
	cfg.Mode = exposure.ModeCount
	cfg.MaxPositionsPerSector = 0
	e.exposure = exposure.New(map[string]string{"005930": "IT"}, cfg)

	st := symbolstate.New("005930", "IT", 70000, 69000, 69500)
	st.SetPhase(symbolstate.WaitAcceptance)
	e.registry.Add(st)

	e.armSymbol(st, 15)

	if st.Phase() != symbolstate.Done {
		t.Fatalf("expected DONE when sector exposure blocks entry, got %s", st.Phase())
	}
}
