package job

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// File naming conventions inside a job directory.
const (
	DescriptionPrefix = "calc_"
	DescriptionSuffix = ".in"
	BidSuffix         = ".bid"
	RecordFile        = "record.json"
	DefaultResultFile = "result.json"
	OrphanReasonFile  = "orphan-reason.txt"
)

// ErrIncomplete marks a job directory that lacks a calculation description or
// an executable reference, or whose description or record cannot be parsed.
var ErrIncomplete = errors.New("job: incomplete job directory")

// Job is a unit of queued work loaded from its directory listing.
type Job struct {
	Name        string
	Dir         string
	Description Description
	// Executable is the file name of the executable reference.
	Executable string
	Files      []string
	Record     Record
}

// Parents returns the job names this job depends on.
func (j *Job) Parents() []string {
	if j == nil {
		return nil
	}
	return j.Description.Parents
}

// FromFiles builds a Job from the top-level file names of its directory. The
// read callback loads the description and the optional record.
func FromFiles(name string, files []string, read func(file string) ([]byte, error)) (*Job, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var descriptions []string
	for _, f := range sorted {
		if strings.HasPrefix(f, DescriptionPrefix) && strings.HasSuffix(f, DescriptionSuffix) {
			descriptions = append(descriptions, f)
		}
	}
	switch len(descriptions) {
	case 0:
		return nil, fmt.Errorf("%w: %s has no %s*%s file", ErrIncomplete, name, DescriptionPrefix, DescriptionSuffix)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s has %d description files", ErrIncomplete, name, len(descriptions))
	}
	descFile := descriptions[0]
	stem := strings.TrimSuffix(descFile, DescriptionSuffix)

	executable := ""
	for _, f := range sorted {
		if f == descFile || strings.HasSuffix(f, BidSuffix) || path.Ext(f) == ".json" {
			continue
		}
		if strings.TrimSuffix(f, path.Ext(f)) == stem {
			executable = f
			break
		}
	}
	if executable == "" {
		return nil, fmt.Errorf("%w: %s has no executable reference for %s", ErrIncomplete, name, descFile)
	}

	data, err := read(descFile)
	if err != nil {
		return nil, fmt.Errorf("job: read %s/%s: %w", name, descFile, err)
	}
	desc, err := ParseDescription(descFile, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIncomplete, name, err)
	}

	rec := NewRecord(name, desc.Type, desc.Grouping)
	if contains(sorted, RecordFile) {
		raw, err := read(RecordFile)
		if err != nil {
			return nil, fmt.Errorf("job: read %s/%s: %w", name, RecordFile, err)
		}
		seeded, err := ParseRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIncomplete, name, err)
		}
		rec = seeded.withIdentity(name, desc.Type, desc.Grouping)
	}

	return &Job{
		Name:        name,
		Description: desc,
		Executable:  executable,
		Files:       sorted,
		Record:      rec,
	}, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
