package runner

import (
	"fmt"

	"github.com/mholt/archiver/v3"
)

// ArchiveTarGz bundles src into a gzipped tarball at dest, replacing an
// older bundle.
func ArchiveTarGz(src, dest string) error {
	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	if err := tgz.Archive([]string{src}, dest); err != nil {
		return fmt.Errorf("archive %s: %w", src, err)
	}
	return nil
}
