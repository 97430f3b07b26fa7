package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
	"github.com/marmos91/dittofs-ntfs/pkg/ntfs"
	"github.com/spf13/cobra"
)

var (
	createDirectory bool
	streamName      string
)

func init() {
	createCommand.Flags().BoolVarP(&createDirectory, "dir", "d", false, "Create a directory")
	writeCommand.Flags().StringVarP(&streamName, "stream", "s", "", "Named data stream to write")
	catCommand.Flags().StringVarP(&streamName, "stream", "s", "", "Named data stream to read")

	root.AddCommand(createCommand, writeCommand, catCommand, linkCommand, deleteCommand)
}

var createCommand = &cobra.Command{
	Use:   "create path",
	Short: `Create an empty file or directory.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			dir, name, err := resolveParent(ctx, rt, args[0])
			if err != nil {
				return err
			}

			var f *ntfs.File
			if createDirectory {
				f, err = rt.FileSystem.CreateDirectory(ctx, dir, name)
			} else {
				f, err = createFile(ctx, rt.FileSystem, dir, name)
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", f.Reference())
			return nil
		})
	},
}

// createFile creates a regular file and links it into dir, deleting it
// again if the link fails.
func createFile(ctx context.Context, fs *ntfs.FileSystem, dir *ntfs.File, name string) (*ntfs.File, error) {
	f, err := fs.CreateFile(ctx, 0)
	if err != nil {
		return nil, err
	}
	if err := fs.Link(ctx, dir, f, name); err != nil {
		if delErr := f.Delete(ctx); delErr != nil {
			logger.Warn("Failed to delete unlinked file %s: %v", f.Reference(), delErr)
		}
		return nil, err
	}
	return f, nil
}

var writeCommand = &cobra.Command{
	Use:   "write path [source]",
	Short: `Replace the content of a file.`,
	Long: `
Replaces the content of the unnamed data stream of path (or of the stream
given with --stream, which is created if needed) with the content of
source, or of standard input when source is omitted. The file is created
if it does not exist.
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := io.Reader(cmd.InOrStdin())
		if len(args) == 2 {
			in, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			src = in
		}

		data, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}

		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			f, err := resolve(ctx, rt, args[0])
			if ntfs.IsNotFound(err) {
				dir, name, perr := resolveParent(ctx, rt, args[0])
				if perr != nil {
					return perr
				}
				f, err = createFile(ctx, rt.FileSystem, dir, name)
			}
			if err != nil {
				return err
			}

			if streamName != "" {
				a, err := f.FindAttribute(ctx, mft.AttributeData, streamName)
				if err != nil {
					return err
				}
				if a == nil {
					if _, err := f.CreateAttribute(ctx, mft.AttributeData, streamName); err != nil {
						return err
					}
				}
			}

			s, err := f.OpenStream(ctx, mft.AttributeData, streamName, ntfs.AccessWrite)
			if err != nil {
				return err
			}
			if err := s.Replace(data); err != nil {
				return err
			}
			if err := f.Persist(ctx); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d bytes written to %s\n", len(data), f.Reference())
			return nil
		})
	},
}

var catCommand = &cobra.Command{
	Use:   "cat path",
	Short: `Print the content of a file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			f, err := resolve(ctx, rt, args[0])
			if err != nil {
				return err
			}
			s, err := f.OpenStream(ctx, mft.AttributeData, streamName, ntfs.AccessRead)
			if err != nil {
				return err
			}
			_, err = io.Copy(cmd.OutOrStdout(), s)
			return err
		})
	},
}

var linkCommand = &cobra.Command{
	Use:   "link existing new",
	Short: `Add a hard link to a file.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			f, err := resolve(ctx, rt, args[0])
			if err != nil {
				return err
			}
			if f.IsDirectory() {
				return fmt.Errorf("%s: cannot hard link a directory", args[0])
			}

			dir, name, err := resolveParent(ctx, rt, args[1])
			if err != nil {
				return err
			}
			if _, err := rt.FileSystem.Lookup(ctx, dir, name); err == nil {
				return fmt.Errorf("%s: already exists", args[1])
			} else if !ntfs.IsNotFound(err) {
				return err
			}

			if err := rt.FileSystem.Link(ctx, dir, f, name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d links\n", f.Reference(), f.HardLinkCount())
			return nil
		})
	},
}

var deleteCommand = &cobra.Command{
	Use:   "delete path",
	Short: `Remove a name; delete the file when no names remain.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFileSystem(cmd, func(ctx context.Context, rt *config.Runtime) error {
			dir, name, err := resolveParent(ctx, rt, args[0])
			if err != nil {
				return err
			}
			f, err := resolve(ctx, rt, args[0])
			if err != nil {
				return err
			}

			if f.IsDirectory() {
				ix, err := f.GetIndex(ctx, ntfs.DirectoryIndexName)
				if err != nil {
					return err
				}
				n, err := ix.Count(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%s: directory not empty", args[0])
				}
			}

			if err := rt.FileSystem.Unlink(ctx, dir, f, name); err != nil {
				return err
			}
			if f.HardLinkCount() > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s unlinked, %d links remain\n", f.Reference(), f.HardLinkCount())
				return nil
			}

			ref := f.Reference()
			if err := f.Delete(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", ref)
			return nil
		})
	},
}
