package pricing

import (
	"math"
	"strings"
	"time"

	"github.com/cardpulse/cardpulse/internal/models"
)

// TTL tiers by near-mint value. High-value cards move faster and users watch
// them more closely, so they refresh most often; cheap cards don't justify
// the fetch cost.
const (
	highValueThreshold = 1000.0
	midValueThreshold  = 100.0

	ttlHighValue = 1 * time.Hour
	ttlMidValue  = 2 * time.Hour
	ttlLowValue  = 4 * time.Hour
)

// TTLForPrice returns the snapshot TTL for a card with the given raw
// near-mint price. A nil price gets the longest TTL.
func TTLForPrice(nearMint *float64) time.Duration {
	if nearMint == nil {
		return ttlLowValue
	}
	switch {
	case *nearMint >= highValueThreshold:
		return ttlHighValue
	case *nearMint >= midValueThreshold:
		return ttlMidValue
	default:
		return ttlLowValue
	}
}

// NormalizeGradeKey collapses cosmetic differences in upstream grade names so
// "PSA 10", "psa-10" and "PSA_10" all land in the same bucket. Applying it
// twice is a no-op.
func NormalizeGradeKey(grade string) string {
	grade = strings.ToLower(grade)
	var b strings.Builder
	b.Grow(len(grade))
	for _, r := range grade {
		switch r {
		case ' ', '-', '_', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// finite returns p only if it points at a usable number; NaN and infinities
// from sloppy upstream payloads become nil.
func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return p
}

// BuildSnapshot transforms an upstream payload into a PriceSnapshot, applying
// grade-key normalization and nullable-numeric rules. Returns nil when the
// payload carries no pricing at all: absence is a missing row, never an empty
// snapshot.
func BuildSnapshot(cardID, variantID string, payload *CardPricePayload, now time.Time) *models.PriceSnapshot {
	if payload == nil {
		return nil
	}

	raw := map[models.Condition]*float64{}
	if p := finite(payload.Raw.NearMint); p != nil {
		raw[models.ConditionNearMint] = p
	}
	if p := finite(payload.Raw.LightlyPlayed); p != nil {
		raw[models.ConditionLightlyPlayed] = p
	}
	if p := finite(payload.Raw.ModeratelyPlayed); p != nil {
		raw[models.ConditionModeratelyPlayed] = p
	}
	if p := finite(payload.Raw.HeavilyPlayed); p != nil {
		raw[models.ConditionHeavilyPlayed] = p
	}

	graded := map[string]models.GradedStats{}
	for _, g := range payload.Grades {
		key := NormalizeGradeKey(g.Grade)
		if key == "" {
			continue
		}
		stats := models.GradedStats{
			Average:     finite(g.Average),
			Median:      finite(g.Median),
			Low:         finite(g.Low),
			High:        finite(g.High),
			SampleCount: g.SampleCount,
		}
		if stats.Average == nil && stats.Median == nil && stats.Low == nil && stats.High == nil {
			continue
		}
		graded[key] = stats
	}

	if len(raw) == 0 && len(graded) == 0 {
		return nil
	}

	snap := &models.PriceSnapshot{
		CardID:       cardID,
		VariantID:    variantID,
		RawPrices:    raw,
		GradedPrices: graded,
		FetchedAt:    now,
	}
	snap.ExpiresAt = now.Add(TTLForPrice(snap.NearMintPrice()))
	return snap
}

// Name lists driving import priority. Sets matching the vintage list import
// first, chase sets second, everything else by recency.
var (
	vintageSetNames = []string{
		"base set", "jungle", "fossil", "team rocket", "gym heroes",
		"gym challenge", "neo genesis", "neo discovery", "neo revelation",
		"neo destiny", "legendary collection", "expedition", "aquapolis",
		"skyridge",
	}
	chaseSetNames = []string{
		"evolving skies", "crown zenith", "151", "hidden fates",
		"shining fates", "celebrations", "prismatic evolutions",
		"surging sparks", "temporal forces", "paldean fates",
	}
)

const (
	priorityVintage = 2_000_000
	priorityChase   = 1_000_000
)

// ImportPriority scores a set for import ordering. The function is a pure
// mapping of (name, recencyIndex), so re-running an import produces the same
// order every time. Higher scores import first.
func ImportPriority(name string, recencyIndex int) int {
	lower := strings.ToLower(name)
	for _, v := range vintageSetNames {
		if strings.Contains(lower, v) {
			return priorityVintage + recencyIndex
		}
	}
	for _, c := range chaseSetNames {
		if strings.Contains(lower, c) {
			return priorityChase + recencyIndex
		}
	}
	return recencyIndex
}
