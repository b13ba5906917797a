package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes every message dump to its own file in a directory.
type FilesystemOutput struct {
	directory string
	logger    *slog.Logger
}

// NewFilesystemOutput clears `dir` and recreates it.
func NewFilesystemOutput(dir string, logger *slog.Logger) (FilesystemOutput, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return FilesystemOutput{directory: dir, logger: logger}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		o.logger.Warn("failed to write message info file", "id", id, "err", err)
	}
}
