package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySender struct {
	failures int
	calls    int
}

func (s *flakySender) Send(ctx context.Context, creds SendCredentials, reply Reply) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("send failed")
	}
	return nil
}

func TestDeliverSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	sender := &flakySender{}
	err := Deliver(context.Background(), nil, sender, TypeTelegram, SendCredentials{}, Reply{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, sender.calls)
}

func TestDeliverRetriesOnce(t *testing.T) {
	t.Parallel()

	sender := &flakySender{failures: 1}
	err := Deliver(context.Background(), nil, sender, TypeTelegram, SendCredentials{}, Reply{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, sender.calls)
}

func TestDeliverGivesUpAfterRetry(t *testing.T) {
	t.Parallel()

	sender := &flakySender{failures: 2}
	err := Deliver(context.Background(), nil, sender, TypeWhatsApp, SendCredentials{}, Reply{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, 2, sender.calls)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TypeWhatsApp, de.Channel)
}

func TestChunkTextShortPassthrough(t *testing.T) {
	t.Parallel()

	chunks := ChunkText("  hello there  ", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello there", chunks[0])

	assert.Nil(t, ChunkText("   ", 100))
}

func TestChunkTextSplitsAtNewlines(t *testing.T) {
	t.Parallel()

	text := "first line\nsecond line\nthird line"
	chunks := ChunkText(text, 22)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first line\nsecond line", chunks[0])
	assert.Equal(t, "third line", chunks[1])
}

func TestChunkTextHardSplitsLongLine(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 25)
	chunks := ChunkText(long, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, len(chunks[0]))
	assert.Equal(t, 5, len(chunks[2]))
}

func TestFormatQuickReplyMenu(t *testing.T) {
	t.Parallel()

	out := FormatQuickReplyMenu("Pick one", []string{"Sales", " ", "Support"})
	assert.Equal(t, "Pick one\n\nQuick options:\n1) Sales\n2) Support", out)
}

func TestFormatQuickReplyMenuNoTitles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Pick one", FormatQuickReplyMenu("Pick one", nil))
	assert.Equal(t, "Pick one", FormatQuickReplyMenu("Pick one", []string{"  "}))
}

func TestFormatQuickReplyMenuCapsAtEight(t *testing.T) {
	t.Parallel()

	titles := make([]string, 12)
	for i := range titles {
		titles[i] = "option"
	}
	out := FormatQuickReplyMenu("Pick", titles)
	assert.Contains(t, out, "8) option")
	assert.NotContains(t, out, "9) option")
}

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&typeOnlyAdapter{channelType: TypeTelegram}))

	_, ok := registry.Get(TypeTelegram)
	assert.True(t, ok)
	_, ok = registry.Get(TypeWhatsApp)
	assert.False(t, ok)

	assert.Error(t, registry.Register(&typeOnlyAdapter{channelType: TypeTelegram}))
}

type typeOnlyAdapter struct {
	channelType ChannelType
}

func (a *typeOnlyAdapter) Type() ChannelType { return a.channelType }
