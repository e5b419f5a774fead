package reaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, randValues []float64) (*Service, *gorm.DB, *int64) {
	t.Helper()

	dsn := fmt.Sprintf("file:reaction_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Reaction{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := int64(1700000000)
	clock := func() time.Time { return time.Unix(now, 0).UTC() }

	drawIndex := 0
	randomFn := func() float64 {
		if drawIndex >= len(randValues) {
			t.Fatalf("random value pool exhausted after %d draws", drawIndex)
		}
		value := randValues[drawIndex]
		drawIndex++
		return value
	}
	if randValues == nil {
		randomFn = func() float64 { return 0 }
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock,
		Rand:     randomFn,
	})
	if err != nil {
		t.Fatalf("failed to construct reaction service: %v", err)
	}
	return service, db, &now
}

func mustRecord(t *testing.T, service *Service, messageID, participantID int64, name string) {
	t.Helper()
	if err := service.Record(context.Background(), messageID, participantID, name); err != nil {
		t.Fatalf("failed to record reaction: %v", err)
	}
}

func TestRecordKeepsOneRowPerParticipant(t *testing.T) {
	service, db, now := newTestService(t, nil)

	mustRecord(t, service, 1, 100, "alice")
	*now += 60
	mustRecord(t, service, 1, 100, "alice renamed")

	var rows []Reaction
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("failed to list reactions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per participant, got %d", len(rows))
	}
	if rows[0].DisplayName != "alice renamed" {
		t.Fatalf("expected display name refreshed, got %q", rows[0].DisplayName)
	}
	if rows[0].ReactedAtSeconds != 1700000060 {
		t.Fatalf("expected reaction timestamp refreshed, got %d", rows[0].ReactedAtSeconds)
	}
}

func TestRecordScopesReactionsToMessage(t *testing.T) {
	service, db, _ := newTestService(t, nil)

	mustRecord(t, service, 1, 100, "alice")
	mustRecord(t, service, 2, 100, "alice")

	var count int64
	if err := db.Model(&Reaction{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count reactions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected independent logs per message, got %d rows", count)
	}
}

func TestRecordRejectsZeroParticipant(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	err := service.Record(context.Background(), 1, 0, "ghost")
	if !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
}

func TestSelectParticipantsRequiresReactions(t *testing.T) {
	service, _, _ := newTestService(t, nil)

	_, err := service.SelectParticipants(context.Background(), 1, 3)
	if !errors.Is(err, ErrNoReactions) {
		t.Fatalf("expected ErrNoReactions, got %v", err)
	}
}

func TestSelectParticipantsFavorsEarlyReactors(t *testing.T) {
	// Ranks carry weights 1, 1/4 and 1/9; with the draw pinned to zero
	// every pick lands on the earliest reactor and deduplication leaves a
	// single winner.
	service, _, now := newTestService(t, []float64{0, 0, 0})

	mustRecord(t, service, 1, 100, "first")
	*now += 10
	mustRecord(t, service, 1, 200, "second")
	*now += 10
	mustRecord(t, service, 1, 300, "third")

	picks, err := service.SelectParticipants(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(picks) != 1 {
		t.Fatalf("expected duplicates collapsed to one pick, got %d", len(picks))
	}
	if picks[0].ParticipantID != 100 || picks[0].DisplayName != "first" {
		t.Fatalf("expected the earliest reactor, got %+v", picks[0])
	}
}

func TestSelectParticipantsPreservesDrawOrder(t *testing.T) {
	// Total weight is 1 + 1/4 + 1/9 ≈ 1.3611. The first draw targets the
	// top-ranked reactor, the second lands in the second rank's slice, and
	// the third repeats the second rank and is dropped as a duplicate.
	service, _, now := newTestService(t, []float64{0, 0.9, 0.8})

	mustRecord(t, service, 1, 100, "first")
	*now += 10
	mustRecord(t, service, 1, 200, "second")
	*now += 10
	mustRecord(t, service, 1, 300, "third")

	picks, err := service.SelectParticipants(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(picks) != 2 {
		t.Fatalf("expected two distinct picks, got %d", len(picks))
	}
	if picks[0].ParticipantID != 100 || picks[1].ParticipantID != 200 {
		t.Fatalf("expected picks in draw order [100 200], got %+v", picks)
	}
}

func TestSelectParticipantsClampsCountToReactors(t *testing.T) {
	service, _, _ := newTestService(t, []float64{0})

	mustRecord(t, service, 1, 100, "only")

	picks, err := service.SelectParticipants(context.Background(), 1, 25)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(picks) != 1 {
		t.Fatalf("expected a single pick, got %d", len(picks))
	}
}

func TestSelectParticipantsDefaultsCount(t *testing.T) {
	service, _, now := newTestService(t, []float64{0, 0, 0})

	for i := int64(1); i <= 5; i++ {
		mustRecord(t, service, 1, 100*i, fmt.Sprintf("raider-%d", i))
		*now += 5
	}

	// Zero requests the default of three draws; the pinned random source
	// collapses them onto the first reactor.
	picks, err := service.SelectParticipants(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(picks) != 1 {
		t.Fatalf("expected one deduplicated winner, got %d", len(picks))
	}
	if picks[0].ParticipantID != 100 {
		t.Fatalf("expected the earliest reactor, got %+v", picks[0])
	}
}

func TestRerecordingDemotesTimeRank(t *testing.T) {
	// A repeat reaction moves the participant to the back of the time
	// ranking, so the pinned draw now favors the other reactor.
	service, _, now := newTestService(t, []float64{0})

	mustRecord(t, service, 1, 100, "first")
	*now += 10
	mustRecord(t, service, 1, 200, "second")
	*now += 10
	mustRecord(t, service, 1, 100, "first again")

	picks, err := service.SelectParticipants(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if picks[0].ParticipantID != 200 {
		t.Fatalf("expected participant 200 promoted to top rank, got %+v", picks[0])
	}
}
