// Package input loads the list of target URLs for a run.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// URLColumn is the CSV header naming the URL column (matched case-insensitively).
const URLColumn = "URL"

// Load reads URLs from path in file order. Files ending in .txt hold one URL
// per line (blank lines and # comments ignored); anything else is read as CSV
// with a header row containing a URL column.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return readLines(f)
	}
	return readCSV(f)
}

func readLines(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input lines: %w", err)
	}
	return urls, nil
}

func readCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}
	col := -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if strings.EqualFold(name, URLColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("input header %v has no %s column", header, URLColumn)
	}

	var urls []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input row: %w", err)
		}
		if col >= len(rec) {
			continue
		}
		if url := strings.TrimSpace(rec[col]); url != "" {
			urls = append(urls, url)
		}
	}
	return urls, nil
}
