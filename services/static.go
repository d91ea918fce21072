package services

import (
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// CollectStatic copies the static source tree into the serving root at
// startup. Collection problems are logged and swallowed: a missing or
// partially copied static tree must never stop the API from starting.
// Returns the number of files copied.
func CollectStatic(srcDir, destDir string) int {
	info, err := os.Stat(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("⚠️ Static source directory %s does not exist, skipping collection", srcDir)
		} else {
			log.Printf("⚠️ Static collection skipped: %v", err)
		}
		return 0
	}
	if !info.IsDir() {
		log.Printf("⚠️ Static source %s is not a directory, skipping collection", srcDir)
		return 0
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		log.Printf("⚠️ Failed to create static root %s: %v", destDir, err)
		return 0
	}

	copied := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("⚠️ Static collection error at %s: %v", path, err)
			return nil // Keep walking
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return nil
		}
		target := filepath.Join(destDir, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				log.Printf("⚠️ Failed to create static directory %s: %v", target, err)
			}
			return nil
		}

		if err := copyFile(path, target); err != nil {
			log.Printf("⚠️ Failed to collect static file %s: %v", rel, err)
			return nil
		}
		copied++
		return nil
	})
	if walkErr != nil {
		log.Printf("⚠️ Static collection incomplete: %v", walkErr)
	}

	if copied > 0 {
		log.Printf("📦 Collected %d static files into %s", copied, destDir)
	}
	return copied
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
