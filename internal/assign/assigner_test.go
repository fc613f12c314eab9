package assign

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audioprio/internal/endpoint"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
	"github.com/jmylchreest/audioprio/internal/system"
)

var (
	playback      = model.Slot{Role: model.RolePlayback}
	capture       = model.Slot{Role: model.RoleCapture}
	commsPlayback = model.Slot{Role: model.RolePlayback, Comms: true}
	commsCapture  = model.Slot{Role: model.RoleCapture, Comms: true}
)

func y1Headset(id string) model.EndpointSnapshot {
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

func microphone() model.EndpointSnapshot {
	return model.EndpointSnapshot{
		Role:                  model.RoleCapture,
		ID:                    "pci-mic",
		State:                 model.StateActive,
		FormFactor:            model.FormFactorMicrophone,
		HostDeviceDescription: "Realtek Audio",
	}
}

func descriptor(t *testing.T, e model.EndpointSnapshot, method model.IdentificationMethod) model.Descriptor {
	t.Helper()
	d, err := model.NewDescriptor(e, method)
	require.NoError(t, err)
	return *d
}

type fixture struct {
	mem      *system.Memory
	cache    *endpoint.Cache
	lists    *store.PriorityLists
	assigner *Assigner
}

func newFixture(t *testing.T, endpoints ...model.EndpointSnapshot) *fixture {
	t.Helper()
	mem := system.NewMemory(endpoints...)
	cache := endpoint.NewCache(mem, nil)
	require.NoError(t, cache.Refresh(context.Background()))
	lists := store.NewPriorityLists(nil, nil)
	return &fixture{
		mem:      mem,
		cache:    cache,
		lists:    lists,
		assigner: New(lists, cache, mem, nil),
	}
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cache.Refresh(context.Background()))
}

func TestAssignDefault_FirstMatchWins(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-1"))
	require.NoError(t, f.lists.Add(playback, descriptor(t, y1Headset("usb-1"), model.MethodLoose)))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))

	r := f.assigner.AssignDefault(context.Background(), playback)

	assert.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, "usb-1", r.EndpointID)
	assert.Equal(t, "usb-1", f.mem.Default(playback))
}

func TestAssignDefault_AlreadyDefaultMakesNoCall(t *testing.T) {
	f := newFixture(t, speakers())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodStrict)))
	f.mem.SetDefaultDirect(playback, "pci-speakers")

	r := f.assigner.AssignDefault(context.Background(), playback)

	assert.Equal(t, OutcomeUnchanged, r.Outcome)
	assert.Empty(t, f.mem.Calls())
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t, speakers(), microphone())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.Add(capture, descriptor(t, microphone(), model.MethodLoose)))

	first := f.assigner.Run(context.Background())
	assert.Equal(t, 4, first.Count(OutcomeChanged), "unified comms slots follow the primary lists")

	f.mem.ResetCalls()
	second := f.assigner.Run(context.Background())
	assert.Equal(t, 4, second.Count(OutcomeUnchanged))
	assert.Empty(t, f.mem.Calls())
	assert.NoError(t, second.Err())
}

func TestRun_SlotOrder(t *testing.T) {
	f := newFixture(t)
	r := f.assigner.Run(context.Background())

	require.Len(t, r.Slots, 4)
	assert.Equal(t, []model.Slot{capture, playback, commsCapture, commsPlayback},
		[]model.Slot{r.Slots[0].Slot, r.Slots[1].Slot, r.Slots[2].Slot, r.Slots[3].Slot})
	assert.Equal(t, 4, r.Count(OutcomeNoMatch))
	assert.NoError(t, r.Err(), "nothing attempted is not a failure")
}

func TestRun_Y1HeadsetReconnectedOnAnotherPort(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-port-1"))
	require.NoError(t, f.lists.Add(playback, descriptor(t, y1Headset("usb-port-1"), model.MethodLoose)))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))

	r := f.assigner.AssignDefault(context.Background(), playback)
	require.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, "usb-port-1", f.mem.Default(playback))

	// Unplug: the speakers take over.
	f.mem.Remove("usb-port-1")
	f.refresh(t)
	r = f.assigner.AssignDefault(context.Background(), playback)
	require.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, "pci-speakers", f.mem.Default(playback))

	// Plugged into a different port it comes back under a new id.
	f.mem.Add(y1Headset("usb-port-2"))
	f.refresh(t)
	r = f.assigner.AssignDefault(context.Background(), playback)
	require.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, "usb-port-2", f.mem.Default(playback))
}

func TestRun_StrictDoesNotFollowReconnect(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-port-2"))
	require.NoError(t, f.lists.Add(playback, descriptor(t, y1Headset("usb-port-1"), model.MethodStrict)))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodStrict)))

	r := f.assigner.AssignDefault(context.Background(), playback)
	assert.Equal(t, "pci-speakers", r.EndpointID)
}

func TestRun_UnpluggedDefaultFallsThrough(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-1"))
	require.NoError(t, f.lists.Add(playback, descriptor(t, y1Headset("usb-1"), model.MethodLoose)))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	f.mem.SetDefaultDirect(playback, "usb-1")

	f.mem.SetState("usb-1", model.StateUnplugged)
	f.refresh(t)

	r := f.assigner.AssignDefault(context.Background(), playback)
	assert.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, "usb-1", r.Previous)
	assert.Equal(t, "pci-speakers", f.mem.Default(playback))
}

func TestRun_NoMatchLeavesDefaultAlone(t *testing.T) {
	f := newFixture(t, speakers())
	require.NoError(t, f.lists.Add(playback, descriptor(t, y1Headset("usb-1"), model.MethodLoose)))
	f.mem.SetDefaultDirect(playback, "pci-speakers")

	r := f.assigner.AssignDefault(context.Background(), playback)

	assert.Equal(t, OutcomeNoMatch, r.Outcome)
	assert.Empty(t, f.mem.Calls())
	assert.Equal(t, "pci-speakers", f.mem.Default(playback))
}

func TestRun_DisabledDescriptorSkipped(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-1"))
	headset := descriptor(t, y1Headset("usb-1"), model.MethodLoose)
	headset.Enabled = false
	require.NoError(t, f.lists.Add(playback, headset))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))

	r := f.assigner.AssignDefault(context.Background(), playback)
	assert.Equal(t, "pci-speakers", r.EndpointID)
}

func TestRun_StaleEndpointWantsRefresh(t *testing.T) {
	f := newFixture(t, speakers(), microphone())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.Add(capture, descriptor(t, microphone(), model.MethodLoose)))
	f.mem.HideFromSet("pci-speakers", true)

	r := f.assigner.Run(context.Background())

	assert.True(t, r.RefreshWanted)
	assert.Equal(t, OutcomeFailed, r.Slots[1].Outcome)
	assert.True(t, r.Slots[1].Stale())
	assert.ErrorIs(t, r.Slots[1].Err, ErrStaleEndpoint)
	assert.ErrorIs(t, r.Slots[1].Err, system.ErrEndpointNotFound)
	assert.Equal(t, "pci-mic", f.mem.Default(capture), "other slots still run")
	assert.NoError(t, r.Err())
}

func TestRun_OSFailureDoesNotStopPass(t *testing.T) {
	f := newFixture(t, speakers(), microphone())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.Add(capture, descriptor(t, microphone(), model.MethodLoose)))
	boom := errors.New("access denied")
	f.mem.FailSetDefault("pci-mic", boom)

	r := f.assigner.Run(context.Background())

	assert.Equal(t, OutcomeFailed, r.Slots[0].Outcome)
	assert.ErrorIs(t, r.Slots[0].Err, boom)
	assert.False(t, r.RefreshWanted)
	assert.Equal(t, OutcomeChanged, r.Slots[1].Outcome)
	assert.NoError(t, r.Err())
}

func TestRun_AllFailedReportsNoChanges(t *testing.T) {
	f := newFixture(t, speakers(), microphone())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.Add(capture, descriptor(t, microphone(), model.MethodLoose)))
	f.mem.FailSetDefault("pci-speakers", errors.New("busy"))
	f.mem.FailSetDefault("pci-mic", errors.New("busy"))

	r := f.assigner.Run(context.Background())

	assert.Equal(t, 4, r.Count(OutcomeFailed))
	assert.ErrorIs(t, r.Err(), ErrNoChanges)
}

func TestRun_FailureBesideNoMatchIsPartial(t *testing.T) {
	f := newFixture(t, speakers())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	f.mem.SetCommunications(false)
	f.mem.FailSetDefault("pci-speakers", errors.New("busy"))

	r := f.assigner.Run(context.Background())

	assert.Equal(t, OutcomeNoMatch, r.Slots[0].Outcome)
	assert.Equal(t, OutcomeFailed, r.Slots[1].Outcome)
	assert.Equal(t, 2, r.Count(OutcomeUnsupported))
	assert.NoError(t, r.Err())
}

func TestRun_AllSupportedFailedBesideUnsupportedComms(t *testing.T) {
	f := newFixture(t, speakers(), microphone())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.Add(capture, descriptor(t, microphone(), model.MethodLoose)))
	f.mem.SetCommunications(false)
	f.mem.FailSetDefault("pci-speakers", errors.New("busy"))
	f.mem.FailSetDefault("pci-mic", errors.New("busy"))

	r := f.assigner.Run(context.Background())

	assert.ErrorIs(t, r.Err(), ErrNoChanges)
}

func TestRun_StrictMissesLooseMatchesByHost(t *testing.T) {
	live := speakers()
	live.ID = "Y1"
	live.HostDeviceDescription = "Speakers"
	learned := live
	learned.ID = "X1"

	a := descriptor(t, learned, model.MethodStrict)
	b := descriptor(t, learned, model.MethodLoose)
	f := newFixture(t, live)
	require.NoError(t, f.lists.Add(playback, a))
	require.NoError(t, f.lists.Add(playback, b))

	r := f.assigner.AssignDefault(context.Background(), playback)

	assert.Equal(t, OutcomeChanged, r.Outcome)
	assert.Equal(t, b.ID, r.DescriptorID)
	assert.Equal(t, "Y1", r.EndpointID)
	assert.Equal(t, "Y1", f.mem.Default(playback))
}

func TestRun_CommsUnsupported(t *testing.T) {
	f := newFixture(t, speakers())
	f.mem.SetCommunications(false)
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))

	r := f.assigner.Run(context.Background())

	assert.Equal(t, OutcomeUnsupported, r.Slots[2].Outcome)
	assert.Equal(t, OutcomeUnsupported, r.Slots[3].Outcome)
	assert.Equal(t, OutcomeChanged, r.Slots[1].Outcome)
	assert.Len(t, f.mem.Calls(), 1)
}

func TestRun_SplitCommsUsesOwnList(t *testing.T) {
	f := newFixture(t, speakers(), y1Headset("usb-1"))
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))
	require.NoError(t, f.lists.SetSeparateComms(true))
	require.NoError(t, f.lists.Insert(commsPlayback, descriptor(t, y1Headset("usb-1"), model.MethodLoose), 0))

	f.assigner.Run(context.Background())

	assert.Equal(t, "pci-speakers", f.mem.Default(playback))
	assert.Equal(t, "usb-1", f.mem.Default(commsPlayback))
}

type fixedLists map[model.Slot][]model.Descriptor

func (l fixedLists) List(slot model.Slot) []model.Descriptor { return l[slot] }

func TestAssignDefault_RoleMismatchFailsFast(t *testing.T) {
	mem := system.NewMemory(microphone(), speakers())
	cache := endpoint.NewCache(mem, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	lists := fixedLists{playback: {descriptor(t, microphone(), model.MethodLoose), descriptor(t, speakers(), model.MethodLoose)}}
	r := New(lists, cache, mem, nil).AssignDefault(context.Background(), playback)

	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.ErrorIs(t, r.Err, model.ErrRoleMismatch)
	assert.Empty(t, mem.Calls())
}

func TestPlan_ChangesNothing(t *testing.T) {
	f := newFixture(t, speakers())
	require.NoError(t, f.lists.Add(playback, descriptor(t, speakers(), model.MethodLoose)))

	r := f.assigner.Plan(context.Background())

	assert.True(t, r.DryRun)
	assert.Equal(t, OutcomeChanged, r.Slots[1].Outcome)
	assert.Empty(t, f.mem.Calls())
	assert.Equal(t, "", f.mem.Default(playback))
}
