package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/spf13/cobra"
)

func init() {
	root.AddCommand(statCommand)
}

var statCommand = &cobra.Command{
	Use:   "stat path",
	Short: `Show the names, times and attributes of a file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			f, err := resolve(ctx, rt, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			kind := "file"
			if f.IsDirectory() {
				kind = "directory"
			}
			_, _ = fmt.Fprintf(w, "Reference:\t%s\n", f.Reference())
			_, _ = fmt.Fprintf(w, "Type:\t%s\n", kind)
			_, _ = fmt.Fprintf(w, "Links:\t%d\n", f.HardLinkCount())

			names, err := f.Names(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				_, _ = fmt.Fprintf(w, "Name:\t%s\n", name)
			}

			if si, err := standardInformation(ctx, f); err != nil {
				return err
			} else if si != nil {
				_, _ = fmt.Fprintf(w, "Created:\t%s\n", si.CreationTime.Format(time.RFC3339Nano))
				_, _ = fmt.Fprintf(w, "Modified:\t%s\n", si.ModificationTime.Format(time.RFC3339Nano))
				_, _ = fmt.Fprintf(w, "Changed:\t%s\n", si.MftChangeTime.Format(time.RFC3339Nano))
				_, _ = fmt.Fprintf(w, "Accessed:\t%s\n", si.LastAccessTime.Format(time.RFC3339Nano))
			}

			attrs, err := f.AllAttributes(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tSTORAGE\tLENGTH\tHOST")
			for _, a := range attrs {
				storage := "resident"
				if a.IsNonResident() {
					storage = fmt.Sprintf("non-resident (%d allocated)", a.AllocatedLength())
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
					a.ID(), a.Type(), a.Name(), storage, a.Length(), a.Host())
			}

			return w.Flush()
		})
	},
}

// standardInformation decodes the file's $STANDARD_INFORMATION, if present.
func standardInformation(ctx context.Context, f *ntfs.File) (*ntfs.StandardInformation, error) {
	a, err := f.FindAttribute(ctx, mft.AttributeStandardInformation, "")
	if err != nil || a == nil {
		return nil, err
	}
	return ntfs.GetAttributeContent[ntfs.StandardInformation](ctx, f, a.ID())
}
