package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/version"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "files <room>",
		Short: "List the files of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			list, err := ctx.store(cfg).RoomFiles(args[0])
			if err != nil {
				return err
			}
			if len(list.List) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Room %s is empty\n", args[0])
				return nil
			}

			rows := make([][]string, 0, len(list.List))
			for _, f := range list.List {
				rows = append(rows, []string{f.FileName, strconv.FormatInt(f.Size, 10), f.Created})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Size", "Modified"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info <room> [file]",
		Short: "Probe a file of a room (defaults to the composite)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			room := args[0]
			name := fragment.ArtifactName(room)
			if len(args) == 2 {
				name = args[1]
			}

			meta, err := ctx.executor(cfg, ctx.logger()).Probe(cmd.Context(), ctx.store(cfg).Path(room, name))
			if err != nil {
				return err
			}
			rows := [][]string{{
				name,
				strconv.FormatFloat(meta.Duration, 'f', 3, 64),
				fmt.Sprintf("%dx%d", meta.Width, meta.Height),
			}}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Duration (s)", "Size"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return nil
		},
	}
}
