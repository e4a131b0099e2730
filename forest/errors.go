package forest

import "errors"

var (
	// ErrInvalidSegment indicates an 80 MHz center cannot anchor a segment tree.
	ErrInvalidSegment = errors.New("invalid 80 MHz segment")
	// ErrSegmentNotFound indicates no entry covers the requested channel.
	ErrSegmentNotFound = errors.New("segment not in precac forest")
	// ErrNotSubchannel indicates a channel that is not a 20 MHz leaf of its segment.
	ErrNotSubchannel = errors.New("channel is not a 20 MHz subchannel")
	// ErrNOLSaturated indicates radar was reported on subchannels already in NOL.
	ErrNOLSaturated = errors.New("radar found on an already marked NOL channel")
	// ErrTreeUninitialised indicates an entry whose tree was already torn down.
	ErrTreeUninitialised = errors.New("precac tree not initialised")
	// ErrSameForest indicates a reassignment whose source and destination match.
	ErrSameForest = errors.New("source and destination forest are the same")
)
