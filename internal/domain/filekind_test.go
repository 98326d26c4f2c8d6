package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKindSuffixes(t *testing.T) {
	cases := map[FileKind]string{
		KindMetadata: "json",
		KindTrackGPX: "gpx",
		KindTrackTCX: "tcx",
		KindTrackKML: "kml",
		KindTrackCSV: "csv",
	}
	for kind, suffix := range cases {
		assert.Equal(t, suffix, kind.Suffix(), "suffix for %s", kind.Token())
	}
}

func TestFileKindDownloadFormats(t *testing.T) {
	// Metadata is serialized locally, never downloaded.
	assert.Empty(t, KindMetadata.DownloadFormat())

	for _, kind := range GPSKinds() {
		assert.NotEmpty(t, kind.DownloadFormat(), "download format for %s", kind.Token())
	}
}

func TestAllKindsOrder(t *testing.T) {
	kinds := AllKinds()
	require.Len(t, kinds, 5)
	assert.Equal(t, KindMetadata, kinds[0], "metadata must come first in download order")
}

func TestGPSKindsExcludeMetadata(t *testing.T) {
	for _, kind := range GPSKinds() {
		assert.NotEqual(t, KindMetadata, kind)
	}
	assert.Len(t, GPSKinds(), 4)
}

func TestRequiresPolylineAsymmetry(t *testing.T) {
	// Only GPX and TCX are gated on the polyline flag.
	assert.True(t, KindTrackGPX.RequiresPolyline())
	assert.True(t, KindTrackTCX.RequiresPolyline())
	assert.False(t, KindTrackKML.RequiresPolyline())
	assert.False(t, KindTrackCSV.RequiresPolyline())
	assert.False(t, KindMetadata.RequiresPolyline())
}

func TestParseFileKind(t *testing.T) {
	for _, kind := range AllKinds() {
		parsed, err := ParseFileKind(kind.Token())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseFileKind("bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}
