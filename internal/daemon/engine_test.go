package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
	"github.com/jmylchreest/audioprio/internal/system"
)

var (
	playback      = model.Slot{Role: model.RolePlayback}
	commsPlayback = model.Slot{Role: model.RolePlayback, Comms: true}
)

func headset(id string) model.EndpointSnapshot {
	return model.EndpointSnapshot{
		Role:                  model.RolePlayback,
		ID:                    id,
		State:                 model.StateActive,
		FormFactor:            model.FormFactorHeadphones,
		DeviceDescription:     "Headphones",
		HostDeviceDescription: "Y1 USB Headset",
	}
}

func speakers() model.EndpointSnapshot {
	return model.EndpointSnapshot{
		Role:                  model.RolePlayback,
		ID:                    "pci-speakers",
		State:                 model.StateActive,
		FormFactor:            model.FormFactorSpeakers,
		DeviceDescription:     "Speakers",
		HostDeviceDescription: "Realtek Audio",
	}
}

func descriptor(t *testing.T, e model.EndpointSnapshot, method model.IdentificationMethod) model.Descriptor {
	t.Helper()
	d, err := model.NewDescriptor(e, method)
	require.NoError(t, err)
	return *d
}

type harness struct {
	engine *Engine
	mem    *system.Memory
	lists  *store.PriorityLists
}

func newHarness(t *testing.T, opts Options, endpoints ...model.EndpointSnapshot) *harness {
	t.Helper()
	mem := system.NewMemory(endpoints...)
	lists := store.NewPriorityLists(nil, nil)
	return &harness{
		engine: NewEngine(mem, lists, opts, nil),
		mem:    mem,
		lists:  lists,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.engine.Start(ctx, nil))
	t.Cleanup(func() {
		h.engine.Stop()
		cancel()
	})
	h.wait(t)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.engine.WaitIdle(ctx))
}

func TestEngine_AssignsOnStart(t *testing.T) {
	h := newHarness(t, Options{ApplyOnStart: true}, speakers(), headset("usb-1"))
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodLoose)))
	h.mem.SetDefaultDirect(playback, "pci-speakers")

	h.start(t)

	assert.Equal(t, "usb-1", h.mem.Default(playback))
	pass, ok := h.engine.LastPass()
	require.True(t, ok)
	assert.Equal(t, 2, pass.Count(assign.OutcomeChanged)) // playback and comms-playback
	assert.Len(t, h.engine.Endpoints(), 2)
}

func TestEngine_NoPassWithoutApplyOnStart(t *testing.T) {
	h := newHarness(t, Options{}, speakers(), headset("usb-1"))
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodLoose)))
	h.mem.SetDefaultDirect(playback, "pci-speakers")

	h.start(t)

	assert.Equal(t, "pci-speakers", h.mem.Default(playback))
	_, ok := h.engine.LastPass()
	assert.False(t, ok)
	assert.Len(t, h.engine.Endpoints(), 2)
}

func TestEngine_NotificationRouting(t *testing.T) {
	h := newHarness(t, Options{}, speakers())
	h.start(t)
	before := h.engine.Stats()

	for _, kind := range []system.NotificationKind{
		system.NotifyPropertyChanged, system.NotifyMuteChanged, system.NotifyVolumeChanged,
	} {
		h.engine.HandleNotification(system.Notification{Kind: kind, EndpointID: "pci-speakers"})
	}
	h.wait(t)
	after := h.engine.Stats()
	assert.Equal(t, before.Refreshes, after.Refreshes)
	assert.Equal(t, before.Assignments, after.Assignments)

	h.engine.HandleNotification(system.Notification{Kind: system.NotifyDefaultChanged, Slot: playback})
	h.wait(t)
	after = h.engine.Stats()
	assert.Equal(t, before.Refreshes, after.Refreshes)
	assert.Equal(t, before.Assignments+1, after.Assignments)

	for _, kind := range []system.NotificationKind{
		system.NotifyDeviceAdded, system.NotifyDeviceRemoved, system.NotifyStateChanged,
	} {
		before = h.engine.Stats()
		h.engine.HandleNotification(system.Notification{Kind: kind, EndpointID: "pci-speakers"})
		h.wait(t)
		after = h.engine.Stats()
		assert.Equal(t, before.Refreshes+1, after.Refreshes, kind.String())
		assert.Equal(t, before.Assignments+1, after.Assignments, kind.String())
	}
}

func TestEngine_RoutesNotificationChannel(t *testing.T) {
	h := newHarness(t, Options{}, speakers())
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodLoose)))

	notifications := make(chan system.Notification, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.engine.Start(ctx, notifications))

	h.mem.Add(headset("usb-1"))
	notifications <- system.Notification{Kind: system.NotifyDeviceAdded, EndpointID: "usb-1"}

	assert.Eventually(t, func() bool {
		return h.mem.Default(playback) == "usb-1"
	}, 2*time.Second, 10*time.Millisecond)

	close(notifications)
	h.engine.Stop()
}

func TestEngine_HeadsetReconnectedUnderNewID(t *testing.T) {
	h := newHarness(t, Options{ApplyOnStart: true}, speakers(), headset("usb-1"))
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodLoose)))
	require.NoError(t, h.lists.Add(playback, descriptor(t, speakers(), model.MethodStrict)))
	h.start(t)
	require.Equal(t, "usb-1", h.mem.Default(playback))

	h.mem.Remove("usb-1")
	h.engine.HandleNotification(system.Notification{Kind: system.NotifyDeviceRemoved, EndpointID: "usb-1"})
	h.wait(t)
	assert.Equal(t, "pci-speakers", h.mem.Default(playback))

	h.mem.Add(headset("usb-2"))
	h.engine.HandleNotification(system.Notification{Kind: system.NotifyDeviceAdded, EndpointID: "usb-2"})
	h.wait(t)
	assert.Equal(t, "usb-2", h.mem.Default(playback))
}

func TestEngine_UnpluggedDefaultFallsThrough(t *testing.T) {
	h := newHarness(t, Options{ApplyOnStart: true}, speakers(), headset("usb-1"))
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodStrict)))
	require.NoError(t, h.lists.Add(playback, descriptor(t, speakers(), model.MethodStrict)))
	h.start(t)
	require.Equal(t, "usb-1", h.mem.Default(playback))

	h.mem.SetState("usb-1", model.StateUnplugged)
	h.engine.HandleNotification(system.Notification{Kind: system.NotifyStateChanged, EndpointID: "usb-1"})
	h.wait(t)

	assert.Equal(t, "pci-speakers", h.mem.Default(playback))
}

func TestEngine_StaleRefreshLimit(t *testing.T) {
	h := newHarness(t, Options{ApplyOnStart: true, StaleRefreshLimit: 1}, headset("usb-1"))
	require.NoError(t, h.lists.Add(playback, descriptor(t, headset("usb-1"), model.MethodStrict)))
	h.mem.HideFromSet("usb-1", true)

	h.start(t)

	// initial refresh, stale pass, one more refresh, stale pass, stop
	stats := h.engine.Stats()
	assert.Equal(t, uint64(2), stats.Refreshes)
	assert.Equal(t, uint64(2), stats.Assignments)

	h.engine.RequestAssignDefaults()
	h.wait(t)
	stats = h.engine.Stats()
	assert.Equal(t, uint64(2), stats.Refreshes)
	assert.Equal(t, uint64(3), stats.Assignments)

	// a clean pass resets the limit
	h.mem.HideFromSet("usb-1", false)
	h.engine.RequestAssignDefaults()
	h.wait(t)
	assert.Equal(t, "usb-1", h.mem.Default(playback))

	h.mem.HideFromSet("usb-1", true)
	h.mem.SetDefaultDirect(playback, "")
	h.engine.RequestAssignDefaults()
	h.wait(t)
	stats = h.engine.Stats()
	assert.Equal(t, uint64(3), stats.Refreshes)
}

func TestEngine_EditsTriggerPass(t *testing.T) {
	h := newHarness(t, Options{}, speakers(), headset("usb-1"))
	h.mem.SetDefaultDirect(playback, "pci-speakers")
	h.start(t)
	ctx := context.Background()

	hs := descriptor(t, headset("usb-1"), model.MethodLoose)
	require.NoError(t, h.engine.AddDescriptor(ctx, playback, hs))
	h.wait(t)
	assert.Equal(t, "usb-1", h.mem.Default(playback))

	sp := descriptor(t, speakers(), model.MethodStrict)
	require.NoError(t, h.engine.InsertDescriptor(ctx, playback, sp, 0))
	h.wait(t)
	assert.Equal(t, "pci-speakers", h.mem.Default(playback))

	require.NoError(t, h.engine.MoveDescriptor(ctx, playback, hs.ID, 0))
	h.wait(t)
	assert.Equal(t, "usb-1", h.mem.Default(playback))

	hs.Enabled = false
	require.NoError(t, h.engine.UpdateDescriptor(ctx, hs))
	h.wait(t)
	assert.Equal(t, "pci-speakers", h.mem.Default(playback))

	require.NoError(t, h.engine.RemoveDescriptor(ctx, playback, sp.ID))
	h.wait(t)
	assert.Len(t, h.engine.List(playback), 1)

	err := h.engine.RemoveDescriptor(ctx, playback, sp.ID)
	assert.ErrorIs(t, err, store.ErrDescriptorNotFound)
}

func TestEngine_SeparateCommsPriority(t *testing.T) {
	h := newHarness(t, Options{}, speakers(), headset("usb-1"))
	h.start(t)
	ctx := context.Background()

	hs := descriptor(t, headset("usb-1"), model.MethodLoose)
	sp := descriptor(t, speakers(), model.MethodStrict)
	require.NoError(t, h.engine.AddDescriptor(ctx, playback, hs))
	require.NoError(t, h.engine.AddDescriptor(ctx, playback, sp))
	assert.False(t, h.engine.SeparateCommsPriority())
	assert.Equal(t, h.engine.List(playback), h.engine.List(commsPlayback))

	require.NoError(t, h.engine.SetSeparateCommunicationsPriority(ctx, true))
	assert.True(t, h.engine.SeparateCommsPriority())
	require.NoError(t, h.engine.MoveDescriptor(ctx, commsPlayback, sp.ID, 0))
	h.wait(t)

	assert.Equal(t, "usb-1", h.mem.Default(playback))
	assert.Equal(t, "pci-speakers", h.mem.Default(commsPlayback))
}

func TestEngine_ReloadSettings(t *testing.T) {
	h := newHarness(t, Options{}, speakers(), headset("usb-1"))
	h.start(t)
	ctx := context.Background()

	hs := descriptor(t, headset("usb-1"), model.MethodLoose)
	require.NoError(t, h.engine.AddDescriptor(ctx, playback, hs))
	h.wait(t)
	before := h.engine.Stats()

	require.NoError(t, h.engine.ReloadSettings(ctx, h.lists.Settings()))
	h.wait(t)
	assert.Equal(t, before.Assignments, h.engine.Stats().Assignments)

	s := store.DefaultSettings()
	s.Playback = []model.Descriptor{descriptor(t, speakers(), model.MethodStrict)}
	require.NoError(t, h.engine.ReloadSettings(ctx, s))
	h.wait(t)
	assert.Equal(t, before.Assignments+1, h.engine.Stats().Assignments)
	assert.Equal(t, "pci-speakers", h.mem.Default(playback))

	bad := store.DefaultSettings()
	bad.Capture = []model.Descriptor{descriptor(t, speakers(), model.MethodStrict)}
	err := h.engine.ReloadSettings(ctx, bad)
	assert.ErrorIs(t, err, model.ErrRoleMismatch)
	assert.Len(t, h.engine.List(playback), 1)
}

func TestEngine_SubscribeAndStatus(t *testing.T) {
	dir := t.TempDir()
	history, err := store.OpenPassLog(filepath.Join(dir, "history.jsonl"), 10)
	require.NoError(t, err)
	defer history.Close()

	statusPath := filepath.Join(dir, "status.json")
	h := newHarness(t, Options{
		Backend:      "memory",
		ApplyOnStart: true,
		StatusPath:   statusPath,
		History:      history,
	}, speakers())
	require.NoError(t, h.lists.Add(playback, descriptor(t, speakers(), model.MethodStrict)))
	events := h.engine.Subscribe()

	h.start(t)

	var types []EventType
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []EventType{EventCacheRefreshed, EventDefaultsAssigned}, types)

	status, err := store.LoadStatus(statusPath)
	require.NoError(t, err)
	assert.Equal(t, "memory", status.Backend)
	assert.Equal(t, 1, status.EndpointCount)
	assert.NotZero(t, status.LastRefreshAt)
	require.NotNil(t, status.LastPass)
	assert.Equal(t, 2, status.LastPass.Changed)

	records, err := history.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "capture", records[0].Slots[0].Slot)
	assert.Equal(t, "no-match", records[0].Slots[0].Outcome)
}
