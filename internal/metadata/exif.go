package metadata

import (
	"bytes"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Info summarises the EXIF block of an image.
type Info struct {
	HasEXIF     bool
	Orientation int
	Make        string
	Model       string
	Software    string
	Taken       *time.Time
}

// Camera returns "Make Model", or an empty string if neither is set.
func (i Info) Camera() string {
	return strings.TrimSpace(i.Make + " " + i.Model)
}

// Inspect reads the EXIF block of an encoded image. Images without EXIF,
// or with an unreadable block, return a zero Info.
func Inspect(data []byte) Info {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Info{}
	}

	info := Info{
		HasEXIF:  true,
		Make:     stringTag(x, exif.Make),
		Model:    stringTag(x, exif.Model),
		Software: stringTag(x, exif.Software),
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = v
		}
	}

	if tm, err := x.DateTime(); err == nil {
		info.Taken = &tm
	} else if date := parseEXIFDateTime(stringTag(x, exif.DateTimeDigitized)); date != nil {
		info.Taken = date
	}

	return info
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(val, "\x00"))
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
