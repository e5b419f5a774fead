package raid

import (
	"fmt"
	"sort"
	"strings"
)

const (
	barSegments   = 10
	barFilledRune = '█'
	barEmptyRune  = '░'
)

// DimensionProgress is one rendered dimension line of a snapshot.
type DimensionProgress struct {
	Dimension string
	Current   int64
	Goal      int64
}

// ProgressView is a read-only rendering of a raid's current progress.
type ProgressView struct {
	RaidID     string
	PostID     string
	Dimensions []DimensionProgress
}

func newProgressView(raid Raid) (ProgressView, error) {
	goals, err := raid.Goals()
	if err != nil {
		return ProgressView{}, err
	}
	progress, err := raid.Progress()
	if err != nil {
		return ProgressView{}, err
	}

	dimensions := make([]DimensionProgress, 0, len(goals))
	for dimension, target := range goals {
		dimensions = append(dimensions, DimensionProgress{
			Dimension: dimension,
			Current:   progress[dimension],
			Goal:      target,
		})
	}
	sort.Slice(dimensions, func(i, j int) bool {
		return dimensions[i].Dimension < dimensions[j].Dimension
	})

	return ProgressView{
		RaidID:     raid.ID,
		PostID:     raid.PostID,
		Dimensions: dimensions,
	}, nil
}

// RenderBar draws a fixed-width bar with filled segments proportional to
// current/goal, capped at full when the goal is exceeded.
func RenderBar(current, goal int64) string {
	filled := 0
	if goal > 0 && current > 0 {
		filled = int(current * barSegments / goal)
		if filled > barSegments {
			filled = barSegments
		}
	}
	var builder strings.Builder
	for segment := 0; segment < barSegments; segment++ {
		if segment < filled {
			builder.WriteRune(barFilledRune)
		} else {
			builder.WriteRune(barEmptyRune)
		}
	}
	return builder.String()
}

// Text formats the view as the plain-text progress message shown in chat.
func (v ProgressView) Text() string {
	var builder strings.Builder
	builder.WriteString("🎯 Raid progress\n")
	fmt.Fprintf(&builder, "https://x.com/i/status/%s\n", v.PostID)
	for _, line := range v.Dimensions {
		fmt.Fprintf(&builder, "%s: %d/%d [%s]\n", line.Dimension, line.Current, line.Goal, RenderBar(line.Current, line.Goal))
	}
	return strings.TrimRight(builder.String(), "\n")
}
