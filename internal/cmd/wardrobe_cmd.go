package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/app"
	"github.com/runger/storykit/internal/wardrobe"
)

var wardrobeCmd = &cobra.Command{
	Use:     "wardrobe",
	Short:   "Manage the mascot's outfit",
	GroupID: groupCore,
}

var wardrobeRequestCmd = &cobra.Command{
	Use:   "request <item-id>",
	Short: "Queue an item to put on the mascot",
	Long: `Queue a catalog item for the mascot. The change is applied the next
time reading progress crosses the configured threshold, or on
'storykit wardrobe run'. A new request replaces any queued one.

Examples:
  storykit wardrobe request shirt-blue
  storykit wardrobe request crown-gold`,
	Args: cobra.ExactArgs(1),
	RunE: runWardrobeRequest,
}

var wardrobeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply the queued change now",
	Args:  cobra.NoArgs,
	RunE:  runWardrobeRun,
}

var wardrobeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queued change and current outfit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return printWardrobe(cmd, cmd.OutOrStdout(), a)
	},
}

var wardrobeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the queued change and forget the outfit",
	Args:  cobra.NoArgs,
	RunE:  runWardrobeReset,
}

func init() {
	wardrobeCmd.AddCommand(wardrobeRequestCmd, wardrobeRunCmd, wardrobeStatusCmd, wardrobeResetCmd)
	rootCmd.AddCommand(wardrobeCmd)
}

func runWardrobeRequest(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	catalog, err := wardrobe.LoadCatalog(a.Config().CatalogPath(a.Paths()))
	if err != nil {
		return err
	}
	item, ok := catalog.Lookup(args[0])
	if !ok {
		return fmt.Errorf("item %q: %w", args[0], wardrobe.ErrAssetNotFound)
	}

	orch, err := a.Wardrobe()
	if err != nil {
		return err
	}
	p, err := orch.Request(cmd.Context(), wardrobe.Request{
		Kind:          item.Kind,
		ItemID:        item.ID,
		AccessoryKind: item.AccessoryKind,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) queued as %s\n",
		styleOK.Render("✓"), styleKey.Render(p.ItemID), p.Kind, styleDim.Render(p.RequestID))
	return nil
}

func runWardrobeRun(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := a.Wardrobe()
	if err != nil {
		return err
	}
	outcome := orch.Run(cmd.Context())

	out := cmd.OutOrStdout()
	switch outcome {
	case wardrobe.OutcomeApplied, wardrobe.OutcomeAlreadyApplied:
		fmt.Fprintln(out, styleOK.Render(string(outcome)))
	case wardrobe.OutcomeRequeued:
		fmt.Fprintln(out, styleErr.Render(string(outcome)))
		return errors.New("wardrobe change failed and was requeued")
	default:
		fmt.Fprintln(out, styleDim.Render(string(outcome)))
	}
	return nil
}

func runWardrobeReset(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := a.Wardrobe()
	if err != nil {
		return err
	}
	if err := orch.Queue().Clear(cmd.Context()); err != nil {
		return err
	}
	if err := orch.Outfits().Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "wardrobe reset")
	return nil
}

func printWardrobe(cmd *cobra.Command, out io.Writer, a *app.App) error {
	fmt.Fprintf(out, "\n%s\n", styleTitle.Render("Wardrobe:"))

	orch, err := a.Wardrobe()
	if err != nil {
		fmt.Fprintf(out, "  %s\n", styleWarn.Render(err.Error()))
		return nil
	}

	pending, err := orch.Queue().Load(cmd.Context())
	if err != nil {
		return err
	}
	if pending == nil {
		fmt.Fprintf(out, "  Pending:   %s\n", styleDim.Render("none"))
	} else {
		age := time.Since(pending.StatusAt).Truncate(time.Second)
		fmt.Fprintf(out, "  Pending:   %s (%s) %s for %s\n", pending.ItemID, pending.Kind, pending.Status, age)
	}

	outfit, err := orch.Outfits().Load(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  Clothes:   %s\n", orNone(outfit.EquippedClothes))
	accessory := outfit.EquippedAccessory
	if accessory != "" && outfit.EquippedAccessoryKind != "" {
		accessory += " (" + string(outfit.EquippedAccessoryKind) + ")"
	}
	fmt.Fprintf(out, "  Accessory: %s\n", orNone(accessory))
	fmt.Fprintf(out, "  Image:     %s\n", orNone(outfit.CurrentAssetURL))
	fmt.Fprintf(out, "  History:   %d generations\n", len(outfit.GenerationHistory))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return styleDim.Render("none")
	}
	return s
}
