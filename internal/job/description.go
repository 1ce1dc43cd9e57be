package job

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"
)

// Description is the parsed calculation-description file (calc_<type>.in).
type Description struct {
	File     string
	Type     string
	Grouping string
	// Parents lists the embedded dependency references in declaration order.
	Parents []string
	Params  map[string][]string
}

// ParseDescription decodes "key value" lines. Comments start with '#'.
func ParseDescription(file string, data []byte) (Description, error) {
	desc := Description{
		File:   file,
		Type:   strings.TrimSuffix(strings.TrimPrefix(file, DescriptionPrefix), DescriptionSuffix),
		Params: map[string][]string{},
	}
	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key := strings.Fields(line)[0]
		value := strings.TrimSpace(line[len(key):])
		switch key {
		case "calculation_type":
			if value == "" {
				return Description{}, fmt.Errorf("%s:%d: calculation_type is empty", file, lineNo)
			}
			desc.Type = value
		case "grouping":
			grouping, err := cleanGrouping(value)
			if err != nil {
				return Description{}, fmt.Errorf("%s:%d: %w", file, lineNo, err)
			}
			desc.Grouping = grouping
		case "parent":
			if value == "" {
				return Description{}, fmt.Errorf("%s:%d: parent is empty", file, lineNo)
			}
			if err := ValidSegment(value); err != nil {
				return Description{}, fmt.Errorf("%s:%d: parent: %w", file, lineNo, err)
			}
			if f := ParentFile(value); f == RecordFile || f == DefaultResultFile {
				return Description{}, fmt.Errorf("%s:%d: parent %s would overwrite %s", file, lineNo, value, f)
			}
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			desc.Parents = append(desc.Parents, value)
		default:
			desc.Params[key] = append(desc.Params[key], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return Description{}, fmt.Errorf("%s: %w", file, err)
	}
	if strings.TrimSpace(desc.Type) == "" {
		return Description{}, fmt.Errorf("%s: calculation type is empty", file)
	}
	if _, err := LibraryPath(desc.Type, desc.Grouping); err != nil {
		return Description{}, fmt.Errorf("%s: %w", file, err)
	}
	return desc, nil
}

// ParentFile is the name under which a parent's record is copied into a
// dependent job.
func ParentFile(parent string) string {
	return parent + ".json"
}

// GroupingPath splits the grouping into library sub-directories.
func (d Description) GroupingPath() []string {
	if d.Grouping == "" {
		return nil
	}
	return strings.Split(d.Grouping, "/")
}

func cleanGrouping(value string) (string, error) {
	value = strings.Trim(strings.TrimSpace(value), "/")
	if value == "" {
		return "", nil
	}
	cleaned := path.Clean(value)
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." || part == "." || strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("grouping %q must not contain relative or hidden segments", value)
		}
	}
	return cleaned, nil
}
