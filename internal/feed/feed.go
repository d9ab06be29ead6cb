// Package feed reads detections as JSON lines and hands them to an observer.
//
// Each line is either a single detection
//
//	{"class_id":1,"object_id":42}
//
// or one frame of tracker output
//
//	{"frame_num":17,"objects":[{"class_id":1,"object_id":42},{"class_id":0,"object_id":7}]}
//
// Blank lines are skipped. Malformed lines, including frames with an object
// missing class_id or object_id, are logged and counted, never fatal.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// maxLineSize bounds a single line (one frame with many objects).
const maxLineSize = 1 << 20

// Observer receives detections. countreporter.Reporter implements it.
type Observer interface {
	Observe(classID int, objectID uint64)
}

// Detection is one tracked object.
type Detection struct {
	ClassID  int    `json:"class_id"`
	ObjectID uint64 `json:"object_id"`
}

// Stats summarizes a Run.
type Stats struct {
	Lines     uint64
	Frames    uint64
	Observed  uint64
	Malformed uint64
}

// object is a detection as decoded; absent fields stay nil.
type object struct {
	ClassID  *int    `json:"class_id"`
	ObjectID *uint64 `json:"object_id"`
}

func (o object) detection() (Detection, error) {
	if o.ClassID == nil || o.ObjectID == nil {
		return Detection{}, errMissingField
	}
	return Detection{ClassID: *o.ClassID, ObjectID: *o.ObjectID}, nil
}

type line struct {
	object
	FrameNum *uint64  `json:"frame_num"`
	Objects  []object `json:"objects"`
}

// Run reads r until EOF or until ctx is cancelled, calling obs.Observe for
// every detection. Cancellation is checked between lines; a blocked read is
// not interrupted.
//
// Returns ctx.Err() on cancellation and the read error if r fails. EOF is
// not an error.
func Run(ctx context.Context, r io.Reader, obs Observer, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed")

	var stats Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			logger.Debug("feed cancelled", "lines", stats.Lines)
			return stats, ctx.Err()
		default:
		}

		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		stats.Lines++

		dets, frame, err := parseLine(raw)
		if err != nil {
			stats.Malformed++
			logger.Warn("malformed detection line", "line", stats.Lines, "error", err)
			continue
		}
		if frame {
			stats.Frames++
		}
		for _, d := range dets {
			obs.Observe(d.ClassID, d.ObjectID)
			stats.Observed++
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error("feed read failed", "error", err)
		return stats, fmt.Errorf("read detections: %w", err)
	}

	logger.Info("feed finished",
		"lines", stats.Lines,
		"frames", stats.Frames,
		"observed", stats.Observed,
		"malformed", stats.Malformed,
	)
	return stats, nil
}

var errMissingField = errors.New("class_id and object_id are required")

// parseLine decodes one line. A frame with any incomplete object is rejected
// as a whole.
func parseLine(raw []byte) ([]Detection, bool, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, false, err
	}
	if l.Objects != nil || l.FrameNum != nil {
		dets := make([]Detection, 0, len(l.Objects))
		for i, o := range l.Objects {
			d, err := o.detection()
			if err != nil {
				return nil, true, fmt.Errorf("object %d: %w", i, err)
			}
			dets = append(dets, d)
		}
		return dets, true, nil
	}
	d, err := l.detection()
	if err != nil {
		return nil, false, err
	}
	return []Detection{d}, false, nil
}
