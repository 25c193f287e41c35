package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/bwbackup/pkg/backup"
)

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveCreateCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveExtractCmd)
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Bundle backups into a tar.zst file for off-site copies",
}

var archiveCreateCmd = &cobra.Command{
	Use:   "create <output.tar.zst>",
	Short: "Archive every backup in the backup directory",
	Long: `Copy every backup_*.enc file in the backup directory into a zstd-compressed
tar file. Backups stay encrypted; the output file must not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := backup.Archive(cfg.Backup.Dir, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Archived %d backups to %s\n", n, args[0])
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list <archive.tar.zst>",
	Short: "List the backups in an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := backup.ListArchive(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\n", e.Name, e.Size, e.ModTime.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var archiveExtractCmd = &cobra.Command{
	Use:   "extract <archive.tar.zst> <dir>",
	Short: "Restore the backups in an archive into a directory",
	Long:  `Extract backups into dir. Existing files are never overwritten.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := backup.ExtractArchive(args[0], args[1])
		for _, p := range written {
			fmt.Printf("Extracted %s\n", p)
		}
		return err
	},
}
