package normalize

import "github.com/dunamismax/pixelpress/internal/domain"

// EntryPath names the inbound request shape an image arrived through.
type EntryPath int

const (
	PathStructured EntryPath = iota
	PathStructuredFallback
	PathRaw
	PathMultipart

	numEntryPaths = iota
)

var entryPathNames = [...]string{
	PathStructured:         "structured",
	PathStructuredFallback: "structured_fallback",
	PathRaw:                "raw",
	PathMultipart:          "multipart",
}

var _ [len(entryPathNames) - numEntryPaths]struct{}
var _ [numEntryPaths - len(entryPathNames)]struct{}

func (p EntryPath) String() string {
	if p < 0 || int(p) >= len(entryPathNames) {
		return "unknown"
	}
	return entryPathNames[p]
}

// Defaults are the options an entry path starts from before request
// parameters are applied. A nil Format means auto.
type Defaults struct {
	Quality    int
	Format     *domain.Format
	Aggressive bool
}

const (
	DefaultStructuredQuality = 75
	FallbackQuality          = 60
	BinaryQuality            = 85
)

// DefaultsTable returns the per-path defaults. structuredQuality replaces the
// structured JSON default when it is within 1..100.
func DefaultsTable(structuredQuality int) [numEntryPaths]Defaults {
	if structuredQuality < 1 || structuredQuality > 100 {
		structuredQuality = DefaultStructuredQuality
	}
	return [...]Defaults{
		PathStructured:         {Quality: structuredQuality},
		PathStructuredFallback: {Quality: FallbackQuality, Aggressive: true},
		PathRaw:                {Quality: BinaryQuality},
		PathMultipart:          {Quality: BinaryQuality},
	}
}

func (d Defaults) options() domain.TransformOptions {
	return domain.TransformOptions{
		Quality:      d.Quality,
		Aggressive:   d.Aggressive,
		OutputFormat: d.Format,
	}
}
