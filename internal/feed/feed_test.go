package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []Detection
}

func (r *recorder) Observe(classID int, objectID uint64) {
	r.mu.Lock()
	r.seen = append(r.seen, Detection{ClassID: classID, ObjectID: objectID})
	r.mu.Unlock()
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSingleDetections(t *testing.T) {
	input := `{"class_id":1,"object_id":42}
{"class_id":0,"object_id":7}

{"class_id":1,"object_id":42}
`
	rec := &recorder{}
	stats, err := Run(context.Background(), strings.NewReader(input), rec, quiet())

	require.NoError(t, err)
	assert.Equal(t, []Detection{{1, 42}, {0, 7}, {1, 42}}, rec.seen)
	assert.Equal(t, Stats{Lines: 3, Observed: 3}, stats)
}

func TestRunFrames(t *testing.T) {
	input := `{"frame_num":1,"objects":[{"class_id":1,"object_id":5},{"class_id":2,"object_id":6}]}
{"frame_num":2,"objects":[]}
{"frame_num":3,"objects":[{"class_id":1,"object_id":5}]}
`
	rec := &recorder{}
	stats, err := Run(context.Background(), strings.NewReader(input), rec, quiet())

	require.NoError(t, err)
	assert.Equal(t, []Detection{{1, 5}, {2, 6}, {1, 5}}, rec.seen)
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(3), stats.Observed)
}

func TestRunSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"class_id":1}`,
		`{"object_id":3}`,
		`{"class_id":1,"object_id":-4}`,
		`{"frame_num":1,"objects":[{"class_id":1}]}`,
		`{"frame_num":2,"objects":[{"class_id":1,"object_id":8},{"object_id":3}]}`,
		`{"class_id":1,"object_id":9}`,
	}, "\n")

	rec := &recorder{}
	stats, err := Run(context.Background(), strings.NewReader(input), rec, quiet())

	require.NoError(t, err)
	assert.Equal(t, []Detection{{1, 9}}, rec.seen)
	assert.Equal(t, uint64(7), stats.Lines)
	assert.Equal(t, uint64(6), stats.Malformed)
	assert.Zero(t, stats.Frames)
	assert.Equal(t, uint64(1), stats.Observed)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	_, err := Run(ctx, strings.NewReader(`{"class_id":1,"object_id":1}`+"\n"), rec, quiet())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.seen)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func TestRunReadError(t *testing.T) {
	_, err := Run(context.Background(), failingReader{}, &recorder{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}
