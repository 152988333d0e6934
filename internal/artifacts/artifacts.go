// Package artifacts manages the on-disk leftovers of a coverage run: stale
// tracefiles and gcov counters from earlier runs, dep-info files the capture
// tool must not ingest, and test binaries located by naming convention.
package artifacts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RemoveStaleCoverage deletes prior run leftovers: *.info files directly in
// root and *.gcda/*.gcno counter files anywhere under targetDir. Files that
// are already absent are not an error; a run on a fresh checkout starts the
// same way as a re-run.
func RemoveStaleCoverage(root, targetDir string) error {
	infos, err := filepath.Glob(filepath.Join(root, "*.info"))
	if err != nil {
		return fmt.Errorf("glob tracefiles: %w", err)
	}
	for _, path := range infos {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	err = filepath.WalkDir(targetDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".gcda", ".gcno":
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep counters under %s: %w", targetDir, err)
	}
	return nil
}

// NewestWithPrefix locates the most recently modified regular file in dir
// whose name starts with prefix followed by a dash, skipping dep-info (.d)
// files. This is the fallback when the build tool's structured output did
// not identify the binary.
func NewestWithPrefix(dir, prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"))
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", prefix, err)
	}

	var newest string
	var newestMod int64
	for _, path := range matches {
		if strings.HasSuffix(path, ".d") {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			continue
		}
		if mod := fi.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = path
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no binary matching %s-* in %s", prefix, dir)
	}
	return newest, nil
}

// RemoveDepInfo deletes the dep-info file accompanying a test binary. The
// capture tool trips over it when scanning the build tree; the binary itself
// does not read it, so removal never changes runtime behavior. An absent
// file is fine.
func RemoveDepInfo(binPath string) error {
	depInfo := binPath + ".d"
	if err := os.Remove(depInfo); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dep-info %s: %w", depInfo, err)
	}
	return nil
}
