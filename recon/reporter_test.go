package recon

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nftreserve/models"
)

func TestReporterWritesStageFiles(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	dir := t.TempDir()

	stage := models.Stage{ID: uuid.New(), Code: "vip", Name: "vip"}
	require.NoError(t, db.Create(&stage).Error)
	alloc := models.WalletStageAllocation{
		ID:              uuid.New(),
		WalletAddress:   pollerWallet,
		StageID:         stage.ID,
		AllocationCount: 2,
	}
	require.NoError(t, db.Create(&alloc).Error)

	until := now.Add(time.Hour)
	wallet := pollerWallet
	reserved := models.NFT{
		ID:                      uuid.New(),
		Name:                    "held",
		Reserved:                true,
		ReservedToWalletAddress: &wallet,
		ReservedUntil:           &until,
	}
	require.NoError(t, db.Create(&reserved).Error)

	tokenID := "7"
	assignedOn := now
	assigned := models.NFT{
		ID:                      uuid.New(),
		Name:                    "done",
		Assigned:                true,
		AssignedToWalletAddress: &wallet,
		AssignedOn:              &assignedOn,
		TokenID:                 &tokenID,
	}
	require.NoError(t, db.Create(&assigned).Error)

	// Untouched inventory stays out of the report.
	free := models.NFT{ID: uuid.New(), Name: "free"}
	require.NoError(t, db.Create(&free).Error)

	reporter, err := NewReporter(ReporterConfig{
		DB:        db,
		OutputDir: dir,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	files, err := reporter.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "vip", files[0].Stage)
	require.Equal(t, 2, files[0].Count)

	f, err := os.Open(files[0].CSVPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two rows")
	require.Equal(t, "nft_id", records[0][0])

	states := map[string]bool{}
	for _, rec := range records[1:] {
		states[rec[4]] = true
	}
	require.True(t, states["reserved"])
	require.True(t, states["assigned"])

	info, err := os.Stat(files[0].ParquetPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RunHour: 2, RunMinute: 30})

	before := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	next := s.nextRun(before)
	require.Equal(t, time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC), next)

	after := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	next = s.nextRun(after)
	require.Equal(t, time.Date(2026, 3, 11, 2, 30, 0, 0, time.UTC), next)
}

func TestSchedulerClampsConfig(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RunHour: 99, RunMinute: -5})
	require.Equal(t, 23, s.runHour)
	require.Equal(t, 0, s.runMinute)
}
