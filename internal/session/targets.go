package session

import (
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/stability"
)

// seedTargets creates the targets known before the first poll: the single
// target of a single-target family, or the requested regions.
func (s *Session) seedTargets() {
	f := s.cfg.Family
	if !f.MultiTarget {
		region := f.DefaultRegion(s.cfg.Date)
		if len(s.cfg.Regions) > 0 && strings.TrimSpace(s.cfg.Regions[0]) != "" {
			region = strings.TrimSpace(s.cfg.Regions[0])
		}
		s.track(region)
		return
	}
	for _, region := range s.cfg.Regions {
		region = strings.TrimSpace(region)
		if draw.Slugify(region) != "" && s.lookup(draw.Slugify(region)) == nil {
			s.track(region)
		}
	}
	s.refreshTargets()
}

// resolve maps an extracted region onto its target. Unknown regions are
// added unless the session was limited to explicit regions.
func (s *Session) resolve(region string) *tracked {
	if !s.cfg.Family.MultiTarget {
		return s.targets[0]
	}
	slug := draw.Slugify(region)
	if slug == "" {
		return nil
	}
	if t := s.lookup(slug); t != nil {
		return t
	}
	if len(s.cfg.Regions) > 0 {
		return nil
	}
	return s.track(strings.TrimSpace(region))
}

// adoptRegion names a single target that started without a region after the
// first region read from the page. Its record identity changes with it.
func (s *Session) adoptRegion(t *tracked, region string) {
	region = strings.TrimSpace(region)
	if s.cfg.Family.MultiTarget || t.target.Region != "" || draw.Slugify(region) == "" {
		return
	}
	t.target = draw.NewTarget(s.cfg.Family, s.cfg.Date, region)
	t.channel = t.target.Channel(false)
	s.logger.Info("target region adopted", zap.String("region", region), zap.String("target", t.target.ID()))
}

// complete reports whether every field is complete and the target is named.
func (t *tracked) complete() bool {
	return t.target.Region != "" && t.tracker.Complete()
}

func (s *Session) lookup(slug string) *tracked {
	for _, t := range s.targets {
		if t.target.RegionSlug == slug {
			return t
		}
	}
	return nil
}

func (s *Session) track(region string) *tracked {
	target := draw.NewTarget(s.cfg.Family, s.cfg.Date, region)
	t := &tracked{
		target:  target,
		channel: target.Channel(s.cfg.Family.MultiTarget),
		tracker: stability.New(s.cfg.Family.Schema),
	}
	s.targets = append(s.targets, t)
	return t
}
