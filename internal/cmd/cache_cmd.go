package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/reader"
	"github.com/runger/storykit/internal/storage"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the durable cache",
	Long: `Inspect the durable cache shared by the reader and the wardrobe.

Keys look like:
  book:<book-id>
  page:<book-id>:<index>
  wardrobe:pending
  wardrobe:outfit`,
	GroupID: groupSetup,
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List cached keys",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		keys, err := a.Store().Keys(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := a.Store().Get(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: not cached", args[0])
		}
		if err != nil {
			return err
		}

		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			data = pretty.Bytes()
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var (
	cacheRmPrefix bool
	cacheRmBook   bool
)

var cacheRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove cached values",
	Long: `Remove one key, every key under a prefix, or a whole book.

Examples:
  storykit cache rm wardrobe:pending
  storykit cache rm --prefix page:
  storykit cache rm --book moon-42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, store := cmd.Context(), a.Store()
		switch {
		case cacheRmBook:
			n, err := store.DeletePrefix(ctx, reader.PagePrefix(args[0]))
			if err != nil {
				return err
			}
			if err := store.Delete(ctx, reader.BookKey(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed book %s and %d pages\n", args[0], n)
		case cacheRmPrefix:
			n, err := store.DeletePrefix(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d keys\n", n)
		default:
			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		}
		return nil
	},
}

func init() {
	cacheRmCmd.Flags().BoolVar(&cacheRmPrefix, "prefix", false, "treat the argument as a key prefix")
	cacheRmCmd.Flags().BoolVar(&cacheRmBook, "book", false, "treat the argument as a book id")
	cacheCmd.AddCommand(cacheLsCmd, cacheGetCmd, cacheRmCmd)
	rootCmd.AddCommand(cacheCmd)
}
