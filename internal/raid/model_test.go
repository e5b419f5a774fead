package raid

import (
	"errors"
	"testing"
)

var testDimensions = []string{"likes", "retweets", "replies", "bookmarks"}

func TestNewGoalSetAcceptsKnownDimensions(t *testing.T) {
	goals, err := NewGoalSet(map[string]int64{"likes": 10, "retweets": 5}, testDimensions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goals["likes"] != 10 || goals["retweets"] != 5 {
		t.Fatalf("unexpected goal targets: %v", goals)
	}
}

func TestNewGoalSetRejectsEmptyGoals(t *testing.T) {
	if _, err := NewGoalSet(nil, testDimensions); !errors.Is(err, ErrInvalidGoals) {
		t.Fatalf("expected ErrInvalidGoals, got %v", err)
	}
	if _, err := NewGoalSet(map[string]int64{}, testDimensions); !errors.Is(err, ErrInvalidGoals) {
		t.Fatalf("expected ErrInvalidGoals, got %v", err)
	}
}

func TestNewGoalSetRejectsNonPositiveTargets(t *testing.T) {
	if _, err := NewGoalSet(map[string]int64{"likes": 0}, testDimensions); !errors.Is(err, ErrInvalidGoals) {
		t.Fatalf("expected ErrInvalidGoals for zero target, got %v", err)
	}
	if _, err := NewGoalSet(map[string]int64{"likes": -3}, testDimensions); !errors.Is(err, ErrInvalidGoals) {
		t.Fatalf("expected ErrInvalidGoals for negative target, got %v", err)
	}
}

func TestNewGoalSetRejectsUnknownDimension(t *testing.T) {
	_, err := NewGoalSet(map[string]int64{"quote_tweets": 7}, testDimensions)
	if !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("expected ErrUnknownDimension, got %v", err)
	}
}

func TestNewGoalSetRejectsBlankDimensionName(t *testing.T) {
	_, err := NewGoalSet(map[string]int64{"  ": 1}, testDimensions)
	if !errors.Is(err, ErrInvalidGoals) {
		t.Fatalf("expected ErrInvalidGoals for blank dimension, got %v", err)
	}
}

func TestGoalsMet(t *testing.T) {
	goals := map[string]int64{"likes": 10, "retweets": 5}

	if goalsMet(map[string]int64{"likes": 9, "retweets": 5}, goals) {
		t.Fatalf("expected goals not met at 9/10")
	}
	if !goalsMet(map[string]int64{"likes": 10, "retweets": 5}, goals) {
		t.Fatalf("expected goals met at exact targets")
	}
	if !goalsMet(map[string]int64{"likes": 25, "retweets": 6}, goals) {
		t.Fatalf("expected goals met when targets exceeded")
	}
	if goalsMet(map[string]int64{"likes": 10}, goals) {
		t.Fatalf("expected goals not met with a dimension missing")
	}
}

func TestRaidCountAccessorsRoundTrip(t *testing.T) {
	encoded, err := encodeCounts(map[string]int64{"likes": 4})
	if err != nil {
		t.Fatalf("failed to encode counts: %v", err)
	}
	record := Raid{GoalsJSON: encoded, ProgressJSON: ""}

	goals, err := record.Goals()
	if err != nil {
		t.Fatalf("failed to decode goals: %v", err)
	}
	if goals["likes"] != 4 {
		t.Fatalf("unexpected decoded goals: %v", goals)
	}

	progress, err := record.Progress()
	if err != nil {
		t.Fatalf("failed to decode empty progress: %v", err)
	}
	if len(progress) != 0 {
		t.Fatalf("expected empty progress map, got %v", progress)
	}
}
