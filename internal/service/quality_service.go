package service

import (
	"fmt"

	"vidfetch/internal/model"
)

// QualityService resolves quality tiers to extraction parameters. The
// table is fixed at construction and safe for concurrent reads.
type QualityService struct {
	profiles map[model.QualityTier]model.ExtractionParams
	enabled  []model.QualityTier
	offered  map[model.QualityTier]bool
}

// NewQualityService builds the tier table. sizeLimitBytes is embedded in
// the format selectors as a preference hint so the tool favors formats
// under the limit; the hard limit is still enforced after download.
func NewQualityService(cfg *model.QualityConfig, sizeLimitBytes int64) *QualityService {
	hint := ""
	if sizeLimitBytes > 0 {
		hint = fmt.Sprintf("[filesize<%d]", sizeLimitBytes)
	}

	profiles := map[model.QualityTier]model.ExtractionParams{
		model.QualityBest: {
			FormatSelector: fmt.Sprintf("best%s/best", hint),
			Container:      "mp4",
		},
		model.QualityHD: {
			FormatSelector: fmt.Sprintf("best[height<=720]%s/best[height<=720]/best", hint),
			Container:      "mp4",
			MaxHeight:      720,
		},
		model.QualityStandard: {
			FormatSelector: fmt.Sprintf("best[height<=480]%s/best[height<=480]/best", hint),
			Container:      "mp4",
			MaxHeight:      480,
		},
		model.QualityLow: {
			FormatSelector: fmt.Sprintf("best[height<=360]%s/best[height<=360]/worst", hint),
			Container:      "mp4",
			MaxHeight:      360,
		},
		model.QualityAudio: {
			FormatSelector: fmt.Sprintf("bestaudio%s/bestaudio", hint),
			Container:      "mp3",
			AudioOnly:      true,
		},
	}

	offered := make(map[model.QualityTier]bool, len(cfg.EnabledTiers))
	enabled := make([]model.QualityTier, 0, len(cfg.EnabledTiers))
	for _, tier := range model.AllQualityTiers() {
		for _, want := range cfg.EnabledTiers {
			if tier == want && !offered[tier] {
				offered[tier] = true
				enabled = append(enabled, tier)
			}
		}
	}

	return &QualityService{profiles: profiles, enabled: enabled, offered: offered}
}

// Resolve maps a tier onto its extraction parameters. Every known tier
// resolves; anything else is ErrUnknownQuality.
func (qs *QualityService) Resolve(tier model.QualityTier) (model.ExtractionParams, error) {
	params, ok := qs.profiles[tier]
	if !ok {
		return model.ExtractionParams{}, model.ErrUnknownQuality
	}
	return params, nil
}

// IsEnabled reports whether the API offers the tier.
func (qs *QualityService) IsEnabled(tier model.QualityTier) bool {
	return qs.offered[tier]
}

// EnabledTiers lists the offered tiers in display order.
func (qs *QualityService) EnabledTiers() []model.QualityTier {
	tiers := make([]model.QualityTier, len(qs.enabled))
	copy(tiers, qs.enabled)
	return tiers
}
