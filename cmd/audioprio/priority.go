package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

var priorityOpts struct {
	method string
	flags  []string
	name   string
	at     int
}

var priorityCmd = &cobra.Command{
	Use:     "priority",
	Aliases: []string{"p"},
	Short:   "Show and edit the priority lists",
	Long: `Show and edit the priority lists.

There is one list per slot: playback, capture, comms-playback and
comms-capture. Unless separate communications priority is turned on, the
comms slots share the playback and capture lists.

Positions are 1-based; position 1 is the most preferred device.`,
}

var priorityListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the priority lists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lists, _, err := loadLists()
		if err != nil {
			return err
		}
		return printLists(lists)
	},
}

var priorityAddCmd = &cobra.Command{
	Use:   "add <slot> [endpoint-id|descriptor-id]",
	Short: "Add an endpoint to a slot's list",
	Long: `Add an endpoint to a slot's list.

The second argument is a live endpoint id, or the id of a descriptor that is
already in another list. When omitted it is read from stdin, so a line
selected from "audioprio endpoints -f dmenu" can be piped in.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPriorityAdd,
}

var priorityRemoveCmd = &cobra.Command{
	Use:   "remove <slot> <descriptor-id>",
	Short: "Remove a descriptor from a slot's list",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editSlot(cmd, args, func(lists *store.PriorityLists, slot model.Slot, id string) error {
			return lists.Remove(slot, id)
		})
	},
}

var priorityMoveCmd = &cobra.Command{
	Use:   "move <slot> <descriptor-id> <position>",
	Short: "Move a descriptor to a new position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args[2])
		if err != nil {
			return err
		}
		return editSlot(cmd, args[:2], func(lists *store.PriorityLists, slot model.Slot, id string) error {
			return lists.Move(slot, id, pos)
		})
	},
}

var priorityEnableCmd = &cobra.Command{
	Use:   "enable <descriptor-id>",
	Short: "Enable a descriptor in every list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDescriptor(cmd, args, func(d *model.Descriptor) error {
			d.Enabled = true
			return nil
		})
	},
}

var priorityDisableCmd = &cobra.Command{
	Use:   "disable <descriptor-id>",
	Short: "Disable a descriptor without removing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDescriptor(cmd, args, func(d *model.Descriptor) error {
			d.Enabled = false
			return nil
		})
	},
}

var priorityEditCmd = &cobra.Command{
	Use:   "edit <descriptor-id>",
	Short: "Change a descriptor's name or identification method",
	Long: `Change a descriptor's name or identification method.

Methods:
  strict  match the exact endpoint id only
  loose   match the same product and form factor on any port (default)
  custom  match on the fields given with --flags

Flags for --flags: endpoint_id, form_factor, jack_subtype, container_id,
description, icon_path, interface_name, host_description.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDescriptor(cmd, args, func(d *model.Descriptor) error {
			if cmd.Flags().Changed("name") {
				d.Name = priorityOpts.name
			}
			return applyIdentification(cmd, d)
		})
	},
}

var priorityCommsCmd = &cobra.Command{
	Use:       "comms <on|off>",
	Short:     "Give the communications slots their own lists",
	Long:      `Turning separate communications priority on copies the current lists; turning it off discards the comms lists.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var separate bool
		switch args[0] {
		case "on", "true", "split":
			separate = true
		case "off", "false", "unified":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		lists, file, err := loadLists()
		if err != nil {
			return err
		}
		if err := lists.SetSeparateComms(separate); err != nil {
			return err
		}
		if err := saveLists(lists, file); err != nil {
			return err
		}
		return printLists(lists)
	},
}

func init() {
	rootCmd.AddCommand(priorityCmd)
	priorityCmd.AddCommand(priorityListCmd, priorityAddCmd, priorityRemoveCmd, priorityMoveCmd,
		priorityEnableCmd, priorityDisableCmd, priorityEditCmd, priorityCommsCmd)

	for _, c := range []*cobra.Command{priorityAddCmd, priorityEditCmd} {
		c.Flags().StringVarP(&priorityOpts.method, "method", "m", "",
			"Identification method (strict, loose, custom; default from config)")
		c.Flags().StringSliceVar(&priorityOpts.flags, "flags", nil,
			"Identity fields compared by the custom method")
		c.Flags().StringVarP(&priorityOpts.name, "name", "n", "",
			"Display name for the descriptor")
	}
	priorityAddCmd.Flags().IntVar(&priorityOpts.at, "at", 0,
		"Insert at this position instead of appending")
}

func runPriorityAdd(cmd *cobra.Command, args []string) error {
	slot, err := model.ParseSlot(args[0])
	if err != nil {
		return err
	}
	raw, err := argOrStdin(args, 1, cmd.InOrStdin())
	if err != nil {
		return err
	}

	lists, file, err := loadLists()
	if err != nil {
		return err
	}

	d, err := descriptorForAdd(cmd, lists, raw)
	if err != nil {
		return err
	}

	if priorityOpts.at > 0 {
		err = lists.Insert(slot, *d, priorityOpts.at-1)
	} else {
		err = lists.Add(slot, *d)
	}
	if err != nil {
		return err
	}

	if err := saveLists(lists, file); err != nil {
		return err
	}
	return printLists(lists)
}

// descriptorForAdd reuses a stored descriptor when raw names one, otherwise
// creates a descriptor for the live endpoint. A reused descriptor keeps its
// name and identification; those are changed with "priority edit".
func descriptorForAdd(cmd *cobra.Command, lists *store.PriorityLists, raw string) (*model.Descriptor, error) {
	if d, ok := lists.Find(extractDescriptorID(raw)); ok {
		for _, name := range []string{"method", "flags", "name"} {
			if cmd.Flags().Changed(name) {
				return nil, fmt.Errorf("%w: --%s (use \"priority edit %s\")", errReusedDescriptor, name, d.ID)
			}
		}
		return &d, nil
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	sys, closeBackend := openBackend()
	defer closeBackend()

	cache, err := loadEndpoints(ctx, sys)
	if err != nil {
		return nil, err
	}

	id := extractEndpointID(raw, " | ")
	e := core.LookupByID(cache.Endpoints(), id)
	if e == nil {
		return nil, fmt.Errorf("no endpoint or descriptor with id %q", id)
	}

	method, err := cfg.Method()
	if err != nil {
		return nil, err
	}
	d, err := model.NewDescriptor(*e, method)
	if err != nil {
		return nil, err
	}
	if priorityOpts.name != "" {
		d.Name = priorityOpts.name
	}
	if err := applyIdentification(cmd, d); err != nil {
		return nil, err
	}
	return d, nil
}

// applyIdentification applies --method and --flags to d.
func applyIdentification(cmd *cobra.Command, d *model.Descriptor) error {
	if cmd.Flags().Changed("method") {
		method, err := model.ParseIdentificationMethod(priorityOpts.method)
		if err != nil {
			return err
		}
		d.Method = method
	}
	if cmd.Flags().Changed("flags") {
		flags, err := model.ParseIdentityFlags(priorityOpts.flags)
		if err != nil {
			return err
		}
		allowed, err := cfg.AllowedFlags()
		if err != nil {
			return err
		}
		d.CustomFlags = flags
		if dropped := d.MaskCustomFlags(allowed); dropped != model.FlagsNone {
			return fmt.Errorf("identity flags not allowed by configuration: %s", dropped)
		}
		if !cmd.Flags().Changed("method") {
			d.Method = model.MethodCustom
		}
	}
	return nil
}

// editSlot loads the lists, applies fn to the slot and descriptor id named
// by args, then saves.
func editSlot(cmd *cobra.Command, args []string, fn func(*store.PriorityLists, model.Slot, string) error) error {
	slot, err := model.ParseSlot(args[0])
	if err != nil {
		return err
	}
	raw, err := argOrStdin(args, 1, cmd.InOrStdin())
	if err != nil {
		return err
	}

	lists, file, err := loadLists()
	if err != nil {
		return err
	}
	if err := fn(lists, slot, extractDescriptorID(raw)); err != nil {
		return err
	}
	if err := saveLists(lists, file); err != nil {
		return err
	}
	return printLists(lists)
}

// editDescriptor applies fn to a copy of the descriptor and stores it
// everywhere it appears.
func editDescriptor(cmd *cobra.Command, args []string, fn func(*model.Descriptor) error) error {
	raw, err := argOrStdin(args, 0, cmd.InOrStdin())
	if err != nil {
		return err
	}
	id := extractDescriptorID(raw)

	lists, file, err := loadLists()
	if err != nil {
		return err
	}
	d, ok := lists.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrDescriptorNotFound, id)
	}
	if err := fn(&d); err != nil {
		return err
	}
	if err := lists.Update(d); err != nil {
		return err
	}
	if err := saveLists(lists, file); err != nil {
		return err
	}
	return printLists(lists)
}

func printLists(lists *store.PriorityLists) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}
	return formatter.Lists(os.Stdout, slotLists(lists))
}

var errInvalidPosition = errors.New("position must be a number starting at 1")

var errReusedDescriptor = errors.New("flag does not apply to an existing descriptor")

// parsePosition converts a 1-based position to a list index.
func parsePosition(s string) (int, error) {
	pos, err := strconv.Atoi(s)
	if err != nil || pos < 1 {
		return 0, fmt.Errorf("%w: %q", errInvalidPosition, s)
	}
	return pos - 1, nil
}
