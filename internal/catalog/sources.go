package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"ytcatalog/internal/storage"
)

// ErrMissingSourceList is returned when the authoritative channel list is absent.
var ErrMissingSourceList = errors.New("catalog: channel source list not found")

// ReadChannelSources loads the reference channel list. Blank lines and lines
// starting with '#' are ignored; values are trimmed. Row order is the
// reference order.
func ReadChannelSources(fs afero.Fs, path string) ([]Row, error) {
	lines, err := readLines(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSourceList, path)
		}
		return nil, &storage.StorageError{Op: "read", Entity: "source list", ID: path, Err: err}
	}

	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		kept = append(kept, line)
	}

	_, rows, err := ReadCSV(strings.NewReader(strings.Join(kept, "\n")))
	if err != nil {
		return nil, &storage.StorageError{Op: "read", Entity: "source list", ID: path, Err: err}
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = strings.TrimSpace(v)
		}
	}
	return rows, nil
}

// ReadVideoSources loads the optional single-video source list. A missing
// file yields no rows.
func ReadVideoSources(fs afero.Fs, path string) ([]string, []Row, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, &storage.StorageError{Op: "read", Entity: "source list", ID: path, Err: err}
	}
	defer f.Close()

	header, rows, err := ReadCSV(f)
	if err != nil {
		return nil, nil, &storage.StorageError{Op: "read", Entity: "source list", ID: path, Err: err}
	}
	return header, rows, nil
}

// ReadLines returns the lines of an optional text file. A missing file yields nil.
func ReadLines(fs afero.Fs, path string) ([]string, error) {
	lines, err := readLines(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return lines, err
}

func readLines(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// videoIDColumns are the source-list columns that may hold a bare video id.
var videoIDColumns = []string{"videoID0", "video_id", "videoID", "videoId"}

// VideoIDFromRow returns the video id of a video source row, falling back to
// the id embedded in its video_url.
func VideoIDFromRow(row Row) string {
	for _, col := range videoIDColumns {
		if v := row.Get(col); v != "" {
			return v
		}
	}
	return ExtractVideoID(row.Get("video_url"))
}
