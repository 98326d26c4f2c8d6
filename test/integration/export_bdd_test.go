//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/trackvault/internal/domain"
	"github.com/eliteGoblin/trackvault/internal/export"
	"github.com/eliteGoblin/trackvault/internal/ledger"
	"github.com/eliteGoblin/trackvault/test/fixtures"
)

var _ = Describe("Export Coordinator", func() {
	var (
		tmpDir string
		fs     afero.Fs
		source *fixtures.FakeSource
	)

	newCoordinator := func(cfg export.Config) *export.Coordinator {
		clock := clockwork.NewRealClock()
		led := ledger.New(ledger.FilterPolicy{}, tmpDir, fs, clock)

		cfg.DownloadRoot = tmpDir
		if cfg.BatchSize == 0 {
			cfg.BatchSize = 10
		}
		coord := export.New(cfg, source, led, fs, clock, zap.NewNop())
		Expect(coord.Bootstrap()).To(Succeed())
		return coord
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "trackvault-integration-*")
		Expect(err).NotTo(HaveOccurred())
		fs = afero.NewOsFs()

		start := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
		source = &fixtures.FakeSource{Feed: []domain.Activity{
			fixtures.NewActivity(300, "Morning Run", "running", start.Add(48*time.Hour), true),
			fixtures.NewActivity(200, "Pool Laps", "lap_swimming", start.Add(24*time.Hour), false),
			fixtures.NewActivity(100, "Evening Ride", "cycling", start, true),
		}}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("RunOnce", func() {
		Context("on a fresh download directory", func() {
			It("should mirror the full history into per-kind directories", func() {
				coord := newCoordinator(export.Config{})
				Expect(coord.RunOnce(context.Background())).To(Succeed())

				metaFiles, err := os.ReadDir(filepath.Join(tmpDir, "metadata"))
				Expect(err).NotTo(HaveOccurred())
				Expect(metaFiles).To(HaveLen(3))

				// The swim has no polyline: no GPX or TCX for it.
				gpxFiles, err := os.ReadDir(filepath.Join(tmpDir, "trackGPX"))
				Expect(err).NotTo(HaveOccurred())
				Expect(gpxFiles).To(HaveLen(2))

				// KML and CSV are exported regardless of polyline.
				csvFiles, err := os.ReadDir(filepath.Join(tmpDir, "trackCSV"))
				Expect(err).NotTo(HaveOccurred())
				Expect(csvFiles).To(HaveLen(3))

				Expect(coord.Watermark()).To(Equal(domain.ActivityID(100)))
			})

			It("should encode activity identity into the filenames", func() {
				coord := newCoordinator(export.Config{})
				Expect(coord.RunOnce(context.Background())).To(Succeed())

				path := filepath.Join(tmpDir, "metadata",
					"2024-01-17-08-30-00_activity_300_running_Morning_Run.json")
				Expect(path).To(BeAnExistingFile())
			})
		})

		Context("after a restart over an existing download directory", func() {
			It("should re-scan the disk and download nothing new", func() {
				coord := newCoordinator(export.Config{})
				Expect(coord.RunOnce(context.Background())).To(Succeed())
				firstRunTracks := source.TrackCalls

				// Fresh coordinator, same directory: disk is the state.
				restarted := newCoordinator(export.Config{})
				Expect(restarted.RunOnce(context.Background())).To(Succeed())

				Expect(source.TrackCalls).To(Equal(firstRunTracks))
			})
		})

		Context("when upstream activity data changes between passes", func() {
			It("should delete and redownload the changed activity", func() {
				coord := newCoordinator(export.Config{CheckForChanges: true})
				Expect(coord.RunOnce(context.Background())).To(Succeed())
				firstRunTracks := source.TrackCalls

				renamed := fixtures.NewActivity(100, "Renamed Ride", "cycling",
					time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true)
				source.Feed[2] = renamed

				Expect(coord.RunOnce(context.Background())).To(Succeed())
				Expect(source.TrackCalls).To(Equal(firstRunTracks + 4))

				path := filepath.Join(tmpDir, "metadata",
					"2024-01-15-08-30-00_activity_100_cycling_Renamed_Ride.json")
				Expect(path).To(BeAnExistingFile())
			})
		})

		Context("with small batches and an established watermark", func() {
			It("should stop paging at the boundary batch", func() {
				coord := newCoordinator(export.Config{BatchSize: 1})
				Expect(coord.RunOnce(context.Background())).To(Succeed())
				Expect(source.PageCalls).To(Equal(4), "three pages plus the empty one")

				source.PageCalls = 0
				Expect(coord.RunOnce(context.Background())).To(Succeed())
				Expect(source.PageCalls).To(Equal(3), "stops at the boundary without probing past it")
			})
		})
	})
})
