package fetcher

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// fileData is the on-disk layout. JSON is valid YAML, so both formats load.
//
//	flags:
//	  new-checkout: {on: true, variations: [false, true], fallthrough: {variation: 1}}
//	flagValues:
//	  banner-text: "hello"
type fileData struct {
	Flags      map[string]domain.Flag `yaml:"flags"`
	FlagValues map[string]any         `yaml:"flagValues"`
}

// FileFetcher loads flags from local YAML or JSON files. Later files win on
// duplicate keys. Useful for tests and for running without a flag service.
type FileFetcher struct {
	paths []string
}

// NewFileFetcher creates a fetcher reading the given files on every FetchAll.
func NewFileFetcher(paths ...string) *FileFetcher {
	return &FileFetcher{paths: paths}
}

func (f *FileFetcher) FetchAll(ctx context.Context) (map[string]domain.Flag, error) {
	out := make(map[string]domain.Flag)

	for _, path := range f.paths {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewFetchError(path, err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewFetchError(path, err)
		}

		flags, err := ParseFlagFile(data)
		if err != nil {
			return nil, domain.NewFetchError(path, err)
		}

		for k, fl := range flags {
			out[k] = fl
		}
	}

	return out, nil
}

// ParseFlagFile decodes a flag file. Entries under flagValues become flags
// with a single variation that is always served.
func ParseFlagFile(data []byte) (map[string]domain.Flag, error) {
	var fd fileData
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("decode flag file: %w", err)
	}

	out := make(map[string]domain.Flag, len(fd.Flags)+len(fd.FlagValues))
	for k, fl := range fd.Flags {
		if fl.Key == "" {
			fl.Key = k
		}
		if err := fl.Validate(); err != nil {
			return nil, fmt.Errorf("flag %s: %w", k, err)
		}
		out[k] = fl
	}

	for k, v := range fd.FlagValues {
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("flag %s defined in both flags and flagValues", k)
		}
		out[k] = domain.Flag{
			Key:         k,
			Version:     1,
			On:          true,
			Fallthrough: domain.VariationOrRollout{Variation: domain.IntPtr(0)},
			Variations:  []any{v},
		}
	}

	return out, nil
}
