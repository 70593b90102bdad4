package libav

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// VersionTag is the libavcodec version as reported by avcodec_version():
// major<<16 | minor<<8 | micro. It is only ever used as a selector against
// the known layout break-points.
type VersionTag uint32

// NewVersionTag builds a VersionTag from its components.
func NewVersionTag(major, minor, micro int) VersionTag {
	return VersionTag(uint32(major)<<16 | uint32(minor&0xff)<<8 | uint32(micro&0xff))
}

func (v VersionTag) Major() int { return int(v >> 16) }
func (v VersionTag) Minor() int { return int(v>>8) & 0xff }
func (v VersionTag) Micro() int { return int(v) & 0xff }

func (v VersionTag) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Micro())
}

// layoutID tags which physical layout a variant record uses.
type layoutID uint8

const (
	// layoutLavc54 covers libavcodec from 54.35.0 up to 56.13.100 (exclusive).
	layoutLavc54 layoutID = iota
	// layoutLavc56 covers libavcodec 56.13.100 and newer.
	layoutLavc56
)

func (id layoutID) String() string {
	switch id {
	case layoutLavc54:
		return "lavc54"
	case layoutLavc56:
		return "lavc56"
	default:
		return fmt.Sprintf("layout(%d)", uint8(id))
	}
}

// layoutBreaks lists the known break-points in ascending order.
var layoutBreaks = []struct {
	since  VersionTag
	layout layoutID
}{
	{since: 0x362300, layout: layoutLavc54}, // 54.35.0
	{since: 0x380D64, layout: layoutLavc56}, // 56.13.100
}

// validatedBefore is the first version whose layouts were never checked.
// Versions at or above it still use the newest layout.
const validatedBefore VersionTag = 0x390000 // 57.0.0

// layoutCompat describes how confidently a layout was chosen.
type layoutCompat int

const (
	compatKnown    layoutCompat = iota // inside a validated range
	compatOlder                        // below the lowest break-point, oldest layout assumed
	compatUnproven                     // newer than anything validated, newest layout assumed
)

// selectLayout picks the variant whose range contains v. Versions below the
// lowest break-point get the oldest layout and versions above the last
// validated one get the newest: both are heuristics, reported via compat.
func selectLayout(v VersionTag) (layoutID, layoutCompat) {
	if v < layoutBreaks[0].since {
		return layoutBreaks[0].layout, compatOlder
	}
	selected := layoutBreaks[0].layout
	for _, b := range layoutBreaks {
		if v >= b.since {
			selected = b.layout
		}
	}
	if v >= validatedBefore {
		return selected, compatUnproven
	}
	return selected, compatKnown
}

// versionProbe caches the native version for the lifetime of a Library.
type versionProbe struct {
	once    sync.Once
	version VersionTag
	layout  layoutID
}

func (p *versionProbe) get(query func() uint32) (VersionTag, layoutID) {
	p.once.Do(func() {
		p.version = VersionTag(query())
		var compat layoutCompat
		p.layout, compat = selectLayout(p.version)

		entry := logFn("versionProbe").WithFields(logrus.Fields{
			"version": p.version.String(),
			"layout":  p.layout.String(),
		})
		switch compat {
		case compatOlder:
			entry.Warn("libavcodec is older than every known layout, assuming the oldest; field access may be wrong")
		case compatUnproven:
			entry.Warn("libavcodec is newer than every validated layout, assuming the newest; field access may be wrong")
		default:
			entry.Debug("Selected record layout")
		}
	})
	return p.version, p.layout
}
