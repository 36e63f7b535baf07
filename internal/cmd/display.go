package cmd

import (
	"fmt"
	"io"

	"github.com/fclairamb/packfs/internal/storage"
	"github.com/fclairamb/packfs/internal/storage/archive"
	"github.com/fclairamb/packfs/internal/version"
)

// printFileList prints every file below folder, one path per line.
func printFileList(w io.Writer, folder *storage.Folder) {
	var walk func(f *storage.Folder)
	walk = func(f *storage.Folder) {
		for _, file := range f.Files() {
			fmt.Fprintf(w, "%s\n", file.Path())
		}
		for _, sub := range f.Folders() {
			walk(sub)
		}
	}
	walk(folder)
}

// printFolderTree prints folder and its descendants in tree format.
func printFolderTree(w io.Writer, folder *storage.Folder) {
	fmt.Fprintf(w, "%s\n", folder.Path())
	printTreeChildren(w, folder, "")
}

func printTreeChildren(w io.Writer, folder *storage.Folder, prefix string) {
	files := folder.Files()
	folders := folder.Folders()
	total := len(files) + len(folders)

	i := 0
	for _, file := range files {
		i++
		branch, _ := treeBranch(prefix, i == total)
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, file.Name())
	}
	for _, sub := range folders {
		i++
		branch, nextPrefix := treeBranch(prefix, i == total)
		fmt.Fprintf(w, "%s%s%s/\n", prefix, branch, sub.Name())
		printTreeChildren(w, sub, nextPrefix)
	}
}

// treeBranch returns the tree characters for a node and the prefix of its children.
func treeBranch(prefix string, isLast bool) (string, string) {
	if isLast {
		return "└── ", prefix + "    "
	}
	return "├── ", prefix + "│   "
}

// displayValidation prints the outcome of loading one archive.
func displayValidation(w io.Writer, path string, size int64, pack *archive.Storage, loadErr error) {
	if loadErr != nil {
		fmt.Fprintf(w, "FAIL %s (%s): %v\n", path, formatBytes(size), loadErr)
		return
	}

	files := 0
	_ = pack.Walk(func(*storage.File) error {
		files++
		return nil
	})
	fmt.Fprintf(w, "OK   %s (%s, %d files, state %s)\n", path, formatBytes(size), files, pack.State())
}

func printHash(w io.Writer, sum, path string) {
	fmt.Fprintf(w, "%s  %s\n", sum, path)
}

func displayVersion(w io.Writer) {
	fmt.Fprintf(w, "packfs %s\n", version.Version)
	fmt.Fprintf(w, "  Commit: %s\n", version.Commit)
	fmt.Fprintf(w, "  Time:   %s\n", version.GitTime)
}

// formatBytes formats bytes in a human-readable format.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
