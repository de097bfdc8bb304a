package downloadcfg

import (
	"fmt"
	"strings"
)

// Quality selects which rendition of chapter pages is fetched.
// Values: "data" | "data-saver".
type Quality string

const (
	QualityData      Quality = "data"
	QualityDataSaver Quality = "data-saver"
)

// Options carries per-download settings shared by the workflows.
type Options struct {
	Quality Quality
	// PageWorkers bounds parallel page fetches of a single chapter.
	PageWorkers int
}

func (q Quality) Valid() bool {
	return q == QualityData || q == QualityDataSaver
}

// ParseQuality converts a string to a Quality; empty means QualityData.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(QualityData), "original":
		return QualityData, nil
	case string(QualityDataSaver), "datasaver", "saver":
		return QualityDataSaver, nil
	default:
		return "", fmt.Errorf("invalid page quality %q", s)
	}
}

// Normalize fills in defaults.
func (o Options) Normalize() Options {
	if !o.Quality.Valid() {
		o.Quality = QualityData
	}
	if o.PageWorkers <= 0 {
		o.PageWorkers = 4
	}
	return o
}
