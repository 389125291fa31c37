package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/models"
)

type stubNotifier struct {
	notifyErr error
	fileErr   error
	notified  int
	files     int
}

func (s *stubNotifier) Notify(ctx context.Context, msg models.Notification) error {
	s.notified++
	return s.notifyErr
}

func (s *stubNotifier) SendFile(ctx context.Context, ownerID int64, path, caption string) error {
	s.files++
	return s.fileErr
}

func TestFanout_NotifyReachesAll(t *testing.T) {
	failing := &stubNotifier{notifyErr: errors.New("socket closed")}
	ok := &stubNotifier{}
	fanout := NewFanout(failing, ok, NewLogNotifier(arbor.NewLogger()))

	err := fanout.Notify(context.Background(), models.Notification{Kind: models.NotifyQueued, OwnerID: 7, Text: "Queued"})
	require.Error(t, err)
	assert.Equal(t, 1, failing.notified)
	assert.Equal(t, 1, ok.notified)
}

func TestFanout_SendFileSucceedsWhenAnyDelivers(t *testing.T) {
	failing := &stubNotifier{fileErr: errors.New("no subscriber")}
	ok := &stubNotifier{}
	fanout := NewFanout(NewLogNotifier(arbor.NewLogger()), failing, ok)

	assert.NoError(t, fanout.SendFile(context.Background(), 7, "/tmp/report.pdf", "Similarity Report"))
	assert.Equal(t, 1, ok.files)
}

func TestFanout_SendFileFails(t *testing.T) {
	boom := errors.New("no subscriber")
	fanout := NewFanout(NewLogNotifier(arbor.NewLogger()), &stubNotifier{fileErr: boom})
	assert.ErrorIs(t, fanout.SendFile(context.Background(), 7, "/tmp/report.pdf", "Similarity Report"), boom)

	logOnly := NewFanout(NewLogNotifier(arbor.NewLogger()))
	assert.ErrorIs(t, logOnly.SendFile(context.Background(), 7, "/tmp/report.pdf", "Similarity Report"), ErrFilesUnsupported)
}
