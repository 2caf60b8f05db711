package capture

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Presets are named include patterns
var Presets = map[string]string{
	"everything": `.*`,
	"png":        `\.png`,
	"xhtml":      `\.xhtml`,
	"image":      `\.(jpg|jpeg|gif|png|svg|bmp|tif|tiff|webp)`,
}

// CompileInclude resolves a preset name or compiles a regular expression.
// An empty pattern matches everything and returns nil.
func CompileInclude(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	if preset, ok := Presets[strings.ToLower(pattern)]; ok {
		pattern = preset
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
	}
	return re, nil
}

// PresetNames returns the preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
