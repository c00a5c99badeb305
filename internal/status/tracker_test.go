package status

import (
	"testing"

	"github.com/djlink/prolink/internal/eventbus"
	"github.com/djlink/prolink/internal/protocol"
)

func cdj(device uint8, bpm uint16, master bool) *protocol.CDJStatus {
	return &protocol.CDJStatus{
		DeviceNumber: device,
		BPM100:       bpm,
		Flags:        protocol.StatusFlags{Master: master},
	}
}

func TestFirstMasterFiresChangedAndTempo(t *testing.T) {
	bus := eventbus.New(nil)
	var changed []eventbus.MasterChangedEvent
	var tempo []eventbus.TempoChangedEvent
	bus.OnMasterChanged(func(e eventbus.MasterChangedEvent) { changed = append(changed, e) })
	bus.OnTempoChanged(func(e eventbus.TempoChangedEvent) { tempo = append(tempo, e) })

	tr := New(bus, 0)
	tr.OnStatus(1, cdj(1, 12800, true), 1)

	if len(changed) != 1 || !changed[0].HasMaster || changed[0].DeviceNumber != 1 {
		t.Fatalf("master-changed = %+v", changed)
	}
	if len(tempo) != 1 || tempo[0].BPM != 128.0 {
		t.Fatalf("tempo-changed = %+v", tempo)
	}
	num, has := tr.CurrentMaster()
	if !has || num != 1 {
		t.Fatalf("CurrentMaster = %d, %v", num, has)
	}
}

func TestSmallTempoChangeBelowEpsilonDoesNotFire(t *testing.T) {
	bus := eventbus.New(nil)
	var tempo []eventbus.TempoChangedEvent
	bus.OnTempoChanged(func(e eventbus.TempoChangedEvent) { tempo = append(tempo, e) })

	tr := New(bus, 0.5)
	tr.OnStatus(1, cdj(1, 12800, true), 1)
	tr.OnStatus(1, cdj(1, 12830, true), 2) // 0.3 BPM change, below the 0.5 epsilon

	if len(tempo) != 1 {
		t.Fatalf("tempo-changed fired %d times, want 1 (change after first is below epsilon)", len(tempo))
	}
}

func TestTempoChangeAboveEpsilonFires(t *testing.T) {
	bus := eventbus.New(nil)
	var tempo []eventbus.TempoChangedEvent
	bus.OnTempoChanged(func(e eventbus.TempoChangedEvent) { tempo = append(tempo, e) })

	tr := New(bus, 0.01)
	tr.OnStatus(1, cdj(1, 12800, true), 1)
	tr.OnStatus(1, cdj(1, 13000, true), 2)

	if len(tempo) != 2 {
		t.Fatalf("tempo-changed fired %d times, want 2", len(tempo))
	}
	if tempo[1].BPM != 130.0 {
		t.Errorf("second tempo = %v, want 130", tempo[1].BPM)
	}
}

func TestMasterResignationFiresChanged(t *testing.T) {
	bus := eventbus.New(nil)
	var changed []eventbus.MasterChangedEvent
	bus.OnMasterChanged(func(e eventbus.MasterChangedEvent) { changed = append(changed, e) })

	tr := New(bus, 0)
	tr.OnStatus(1, cdj(1, 12800, true), 1)
	tr.OnStatus(1, cdj(1, 12800, false), 2)

	if len(changed) != 2 || changed[1].HasMaster {
		t.Fatalf("master-changed = %+v, want resignation as second event", changed)
	}
	if _, has := tr.CurrentMaster(); has {
		t.Fatalf("CurrentMaster still reports a master after resignation")
	}
}

func TestTieBreakHigherSyncCounterWins(t *testing.T) {
	bus := eventbus.New(nil)
	var changed []eventbus.MasterChangedEvent
	bus.OnMasterChanged(func(e eventbus.MasterChangedEvent) { changed = append(changed, e) })

	tr := New(bus, 0)
	tr.OnStatus(1, cdj(1, 12800, true), 5)
	tr.OnStatus(2, cdj(2, 13000, true), 3) // lower sync counter, should lose

	num, _ := tr.CurrentMaster()
	if num != 1 {
		t.Fatalf("master = %d, want 1 (higher sync counter should have kept it)", num)
	}
	if len(changed) != 1 {
		t.Fatalf("master-changed fired %d times, want 1 (loser should not displace)", len(changed))
	}
}

func TestOnBeatForwardsOnlyMasterBeats(t *testing.T) {
	bus := eventbus.New(nil)
	var masterBeats []eventbus.MasterBeatEvent
	bus.OnMasterBeat(func(e eventbus.MasterBeatEvent) { masterBeats = append(masterBeats, e) })

	tr := New(bus, 0)
	tr.OnStatus(1, cdj(1, 12800, true), 1)

	tr.OnBeat(eventbus.BeatEvent{DeviceNumber: 2, BPM: 130.0})
	if len(masterBeats) != 0 {
		t.Fatalf("master-beat fired for non-master device: %+v", masterBeats)
	}

	tr.OnBeat(eventbus.BeatEvent{DeviceNumber: 1, BPM: 128.0})
	if len(masterBeats) != 1 || masterBeats[0].DeviceNumber != 1 {
		t.Fatalf("master-beat = %+v, want one event from device 1", masterBeats)
	}
}

func TestOnBeatBeforeAnyMasterIsDropped(t *testing.T) {
	bus := eventbus.New(nil)
	var masterBeats []eventbus.MasterBeatEvent
	bus.OnMasterBeat(func(e eventbus.MasterBeatEvent) { masterBeats = append(masterBeats, e) })

	tr := New(bus, 0)
	tr.OnBeat(eventbus.BeatEvent{DeviceNumber: 1, BPM: 128.0})

	if len(masterBeats) != 0 {
		t.Fatalf("master-beat fired with no master set: %+v", masterBeats)
	}
}

func TestTieBreakEqualCounterLowerDeviceWins(t *testing.T) {
	bus := eventbus.New(nil)
	tr := New(bus, 0)
	tr.OnStatus(3, cdj(3, 12800, true), 9)
	tr.OnStatus(1, cdj(1, 13000, true), 9)

	num, _ := tr.CurrentMaster()
	if num != 1 {
		t.Fatalf("master = %d, want 1 (equal sync counter, lower device number wins)", num)
	}
}
