package domain

import "fmt"

// FileKind is one downloadable artifact type for an activity. The kind
// token doubles as the per-kind subdirectory name under the download
// root.
type FileKind string

const (
	// KindMetadata is the canonical activity JSON. It is always
	// required and can never be excluded by policy.
	KindMetadata FileKind = "metadata"

	KindTrackGPX FileKind = "trackGPX"
	KindTrackTCX FileKind = "trackTCX"
	KindTrackKML FileKind = "trackKML"
	KindTrackCSV FileKind = "trackCSV"
)

// AllKinds returns every kind in download order: metadata first, then
// the GPS-bearing kinds.
func AllKinds() []FileKind {
	return []FileKind{KindMetadata, KindTrackGPX, KindTrackTCX, KindTrackKML, KindTrackCSV}
}

// GPSKinds returns the kinds that carry GPS track data.
func GPSKinds() []FileKind {
	return []FileKind{KindTrackGPX, KindTrackTCX, KindTrackKML, KindTrackCSV}
}

// Token returns the directory token for this kind.
func (k FileKind) Token() string {
	return string(k)
}

// Suffix returns the file suffix for this kind, without the dot.
func (k FileKind) Suffix() string {
	switch k {
	case KindMetadata:
		return "json"
	case KindTrackGPX:
		return "gpx"
	case KindTrackTCX:
		return "tcx"
	case KindTrackKML:
		return "kml"
	case KindTrackCSV:
		return "csv"
	}
	return ""
}

// DownloadFormat returns the remote export format code, or "" for
// metadata, which is serialized locally rather than downloaded.
func (k FileKind) DownloadFormat() string {
	switch k {
	case KindTrackGPX:
		return "gpx"
	case KindTrackTCX:
		return "tcx"
	case KindTrackKML:
		return "kml"
	case KindTrackCSV:
		return "csv"
	}
	return ""
}

// RequiresPolyline reports whether this kind is gated on the upstream
// polyline flag. KML and CSV are not gated; the upstream exporter
// serves them for polyline-less activities too.
func (k FileKind) RequiresPolyline() bool {
	return k == KindTrackGPX || k == KindTrackTCX
}

// ParseFileKind maps a directory token back to a kind.
func ParseFileKind(token string) (FileKind, error) {
	switch k := FileKind(token); k {
	case KindMetadata, KindTrackGPX, KindTrackTCX, KindTrackKML, KindTrackCSV:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown file kind %q", ErrFormat, token)
}
