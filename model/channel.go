package model

import "fmt"

// Channel is an IEEE 802.11 channel number in the 5 GHz band. One unit is
// 5 MHz; the center frequency is 5000 + 5*ch MHz.
type Channel uint16

// Freq returns the center frequency of the channel in MHz.
func (c Channel) Freq() uint16 { return 5000 + 5*uint16(c) }

// ChannelFromFreq converts a 5 GHz center frequency (MHz) to a channel number.
func ChannelFromFreq(mhz uint16) Channel {
	if mhz < 5000 {
		return 0
	}
	return Channel((mhz - 5000) / 5)
}

// Width is an operating channel width.
type Width int

const (
	WidthUnknown Width = iota
	Width20
	Width40
	Width80
	Width80P80
	Width160
)

func (w Width) String() string {
	switch w {
	case Width20:
		return "20MHz"
	case Width40:
		return "40MHz"
	case Width80:
		return "80MHz"
	case Width80P80:
		return "80+80MHz"
	case Width160:
		return "160MHz"
	default:
		return "unknown"
	}
}

// MHz returns the bandwidth of one segment of the width. 80+80 reports 80.
func (w Width) MHz() int {
	switch w {
	case Width20:
		return 20
	case Width40:
		return 40
	case Width80, Width80P80:
		return 80
	case Width160:
		return 160
	default:
		return 0
	}
}

// ParseWidth maps a bandwidth in MHz to a Width. 0 and unsupported values
// return WidthUnknown.
func ParseWidth(mhz int) Width {
	switch mhz {
	case 20:
		return Width20
	case 40:
		return Width40
	case 80:
		return Width80
	case 160:
		return Width160
	default:
		return WidthUnknown
	}
}

// Subchannels returns the number of 20 MHz subchannels in a single tree
// level of the given width. Only 20, 40 and 80 MHz are tree levels; any
// other width reports 0 and false.
func Subchannels(w Width) (int, bool) {
	switch w {
	case Width20:
		return 1, true
	case Width40:
		return 2, true
	case Width80:
		return 4, true
	default:
		return 0, false
	}
}

// Tree geometry of one 80 MHz segment, in channel units.
const (
	// SegmentHalfSpan bounds the 20 MHz leaves around a segment center.
	SegmentHalfSpan Channel = 6
	// Offset40 is the distance from the segment center to each 40 MHz node.
	Offset40 Channel = 4
	// Offset20 is the distance from a 40 MHz center to each of its leaves.
	Offset20 Channel = 2
	// Secondary80Offset is the distance between the two 80 MHz segment
	// centers of a contiguous 160 MHz channel.
	Secondary80Offset Channel = 16
	// Center160Offset is the distance from a 160 MHz center to either of
	// its 80 MHz segment centers.
	Center160Offset Channel = 8
)

// Weather radar band (5600..5640 MHz) where CAC runs much longer.
const (
	WeatherFirst Channel = 120
	WeatherLast  Channel = 128
)

// OperatingChannel describes the channel a radio is currently using.
//
// Center1 is the primary segment center: the 20/40/80 MHz center, or the
// primary 80 MHz segment of 80+80 and 160. Center2 is the secondary 80 MHz
// center for 80+80 and the full 160 MHz center for 160.
type OperatingChannel struct {
	Center1 Channel
	Center2 Channel
	Width   Width
	DFS     bool // primary segment is DFS
	DFS2    bool // secondary segment is DFS
}

func (o OperatingChannel) String() string {
	if o.Center2 != 0 {
		return fmt.Sprintf("%d/%d@%s", o.Center1, o.Center2, o.Width)
	}
	return fmt.Sprintf("%d@%s", o.Center1, o.Width)
}

// IsZero reports whether no channel is set.
func (o OperatingChannel) IsZero() bool { return o.Center1 == 0 }

// SecondarySegment returns the center of the secondary 80 MHz segment for
// 80+80 and 160 channels, or 0 for narrower widths.
func (o OperatingChannel) SecondarySegment() Channel {
	switch o.Width {
	case Width80P80:
		return o.Center2
	case Width160:
		if o.Center2 == 0 {
			return 0
		}
		if o.Center2 < o.Center1 {
			return o.Center2 - Center160Offset
		}
		return o.Center2 + Center160Offset
	default:
		return 0
	}
}

// Subchannels lists every 20 MHz channel the operating channel covers.
func (o OperatingChannel) Subchannels() []Channel {
	switch o.Width {
	case Width20:
		return []Channel{o.Center1}
	case Width40:
		return []Channel{o.Center1 - Offset20, o.Center1 + Offset20}
	case Width80:
		return segment80(o.Center1)
	case Width80P80:
		return append(segment80(o.Center1), segment80(o.Center2)...)
	case Width160:
		c := o.Center2
		if c == 0 {
			return segment80(o.Center1)
		}
		return []Channel{c - 14, c - 10, c - 6, c - 2, c + 2, c + 6, c + 10, c + 14}
	default:
		return nil
	}
}

func segment80(c Channel) []Channel {
	return []Channel{c - 6, c - 2, c + 2, c + 6}
}

// InWeatherBand reports whether any 20 MHz subchannel of a channel with the
// given center and tree width falls in the weather radar band.
func InWeatherBand(center Channel, w Width) bool {
	var half Channel
	switch w {
	case Width40:
		half = Offset20
	case Width80, Width80P80, Width160:
		half = SegmentHalfSpan
	}
	first, last := center-half, center+half
	return first <= WeatherLast && WeatherFirst <= last
}

// AgileWidth translates an operating width into the width the shared agile
// detector precacs at.
func AgileWidth(w Width) (Width, bool) {
	switch w {
	case Width20:
		return Width20, true
	case Width40:
		return Width40, true
	case Width80, Width80P80, Width160:
		return Width80, true
	default:
		return WidthUnknown, false
	}
}

// WithinRange reports whether ch lies in [center-span, center+span].
func WithinRange(ch, center, span Channel) bool {
	return ch+span >= center && ch <= center+span
}
