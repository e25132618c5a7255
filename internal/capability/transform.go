package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ApplyTransform runs value through the capability's fixed
// project → rename → redact → format pipeline: stages run in that order
// whatever order they are listed in, and stages of the same kind keep
// their listed order. A no-op TransformConfig returns value unchanged
// without walking it.
func ApplyTransform(cfg TransformConfig, value any) (any, error) {
	if cfg.IsNoop() {
		return value, nil
	}

	rank := map[string]int{"project": 0, "rename": 1, "redact": 2, "format": 3}
	stages := make([]TransformStage, len(cfg.Stages))
	copy(stages, cfg.Stages)
	sort.SliceStable(stages, func(i, j int) bool {
		return rank[stages[i].Kind] < rank[stages[j].Kind]
	})

	current := value
	for _, stage := range stages {
		var err error
		switch stage.Kind {
		case "project":
			current = projectPaths(current, stage.Paths)
		case "rename":
			current, err = renamePath(current, stage.From, stage.To)
		case "redact":
			current, err = setPath(current, stage.Path, "[REDACTED]")
		case "format":
			current, err = formatPath(current, stage.Path, stage.Processor)
		default:
			return nil, fmt.Errorf("transform: unknown stage kind %q", stage.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// projectPaths keeps only the given dotted paths, dropping everything
// else. A value that isn't an object passes through unchanged, since
// projection is only meaningful on objects.
func projectPaths(value any, paths []string) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any)
	for _, path := range paths {
		v := ExtractPath(obj, path)
		if v != nil {
			assignPath(out, path, v)
		}
	}
	return out
}

// renamePath moves the value at from to to, deleting only the leaf key at
// from; intermediate objects on the source path stay in place. Missing
// source paths are a no-op.
func renamePath(value any, from, to string) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	v := ExtractPath(obj, from)
	if v == nil {
		return value, nil
	}
	removePath(obj, from)
	assignPath(obj, to, v)
	return obj, nil
}

// setPath overwrites the value at path, leaving everything else intact.
// Missing paths are a no-op.
func setPath(value any, path string, newValue any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	if ExtractPath(obj, path) == nil {
		return value, nil
	}
	assignPath(obj, path, newValue)
	return obj, nil
}

// formatPath applies a named post-processor to the string value at path.
func formatPath(value any, path, processor string) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	v := ExtractPath(obj, path)
	if v == nil {
		return value, nil
	}

	formatted, err := applyProcessor(v, processor)
	if err != nil {
		return nil, fmt.Errorf("transform: format %q: %w", path, err)
	}
	assignPath(obj, path, formatted)
	return obj, nil
}

func applyProcessor(v any, processor string) (any, error) {
	switch processor {
	case "trim":
		s, _ := v.(string)
		return strings.TrimSpace(s), nil
	case "upper":
		s, _ := v.(string)
		return strings.ToUpper(s), nil
	case "lower":
		s, _ := v.(string)
		return strings.ToLower(s), nil
	case "json_string":
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	default:
		return nil, fmt.Errorf("unknown processor %q", processor)
	}
}

// assignPath creates intermediate maps as needed and sets the leaf value.
func assignPath(obj map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := obj
	for i, segment := range segments {
		if i == len(segments)-1 {
			current[segment] = value
			return
		}
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
}

// removePath deletes the leaf key at path, leaving intermediate maps
// (even if now empty) in place.
func removePath(obj map[string]any, path string) {
	segments := strings.Split(path, ".")
	current := obj
	for i, segment := range segments {
		if i == len(segments)-1 {
			delete(current, segment)
			return
		}
		next, ok := current[segment].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
}
