package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aapl() Symbol {
	return Symbol{Key: "AAPL", Brokers: []string{"ib"}}
}

func TestBookSendRegistersAndEnqueues(t *testing.T) {
	b := NewBook(10)

	cmd, err := b.Send("abc-1", aapl(), 150.25, 100, ActionBuy, ExecDark)
	require.NoError(t, err)

	assert.Equal(t, ActionBuy, cmd.Action)
	assert.Equal(t, 150.25, cmd.Price)
	assert.Equal(t, 100.0, cmd.Size)
	assert.Equal(t, "AAPL", cmd.Symbol)
	assert.Equal(t, []string{"ib"}, cmd.Brokers)
	assert.Equal(t, "abc-1", cmd.OID)
	assert.Equal(t, ExecDark, cmd.ExecMode)

	got, ok := b.Sent("abc-1")
	require.True(t, ok)
	assert.Equal(t, cmd, got)

	select {
	case queued := <-b.Commands():
		assert.Equal(t, cmd, queued)
	default:
		t.Fatal("command was not enqueued")
	}
}

func TestBookSendOverwritesLastSent(t *testing.T) {
	b := NewBook(10)

	_, err := b.Send("abc-1", aapl(), 150.25, 100, ActionBuy, ExecDark)
	require.NoError(t, err)
	second, err := b.Send("abc-1", aapl(), 151.00, 50, ActionBuy, ExecLive)
	require.NoError(t, err)

	got, ok := b.Sent("abc-1")
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Len(t, b.SentOrders(), 1)
}

func TestBookCancelUnknownOrder(t *testing.T) {
	b := NewBook(10)

	_, err := b.Cancel("never-sent")
	require.ErrorIs(t, err, ErrUnknownOrder)
	assert.Equal(t, 0, b.Pending(), "nothing may be enqueued for a failed cancel")
}

func TestBookCancelKeepsHistory(t *testing.T) {
	b := NewBook(10)

	sent, err := b.Send("abc-1", aapl(), 150.25, 100, ActionBuy, ExecDark)
	require.NoError(t, err)
	<-b.Commands()

	cancel, err := b.Cancel("abc-1")
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, cancel.Action)
	assert.Equal(t, "abc-1", cancel.OID)
	assert.Equal(t, "AAPL", cancel.Symbol)
	assert.Zero(t, cancel.Price)
	assert.Zero(t, cancel.Size)

	// cancellation records intent; it does not erase it
	got, ok := b.Sent("abc-1")
	require.True(t, ok)
	assert.Equal(t, sent, got)
}

func TestBookModifyUnsupported(t *testing.T) {
	b := NewBook(10)

	err := b.Modify("abc-1", 151.0)
	require.ErrorIs(t, err, ErrUnknownOrder)

	_, err = b.Send("abc-1", aapl(), 150.25, 100, ActionBuy, ExecDark)
	require.NoError(t, err)
	err = b.Modify("abc-1", 151.0)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestBookChannelFull(t *testing.T) {
	b := NewBook(2)

	_, err := b.Send("a", aapl(), 1, 1, ActionBuy, ExecDark)
	require.NoError(t, err)
	_, err = b.Send("b", aapl(), 1, 1, ActionBuy, ExecDark)
	require.NoError(t, err)

	_, err = b.Send("c", aapl(), 1, 1, ActionBuy, ExecDark)
	require.ErrorIs(t, err, ErrChannelFull)
	assert.Equal(t, 2, b.Pending(), "failed enqueue must not change the channel")

	// the registry still recorded the intent before the enqueue failed
	_, ok := b.Sent("c")
	assert.True(t, ok)

	// draining one slot makes room again
	<-b.Commands()
	_, err = b.Send("d", aapl(), 1, 1, ActionBuy, ExecDark)
	require.NoError(t, err)
}

func TestBookDefaultCapacity(t *testing.T) {
	b := NewBook(0)
	assert.Equal(t, DefaultChannelCapacity, b.Capacity())
}

func TestBookSendValidation(t *testing.T) {
	b := NewBook(10)

	_, err := b.Send("x", aapl(), 0, 100, ActionBuy, ExecDark)
	assert.Error(t, err, "buy requires a price")

	_, err = b.Send("x", aapl(), 10, 0, ActionSell, ExecLive)
	assert.Error(t, err, "sell requires a size")

	// alerts carry a level but no size
	_, err = b.Send("x", aapl(), 10, 0, ActionAlert, ExecDark)
	assert.NoError(t, err)

	_, err = b.Send("x", aapl(), 10, 1, "hold", ExecDark)
	assert.Error(t, err, "unknown action must be rejected")
	assert.Equal(t, 1, b.Pending())
}

func TestBookClosedRejectsSends(t *testing.T) {
	b := NewBook(10)
	_, err := b.Send("a", aapl(), 1, 1, ActionBuy, ExecDark)
	require.NoError(t, err)

	b.Close()
	b.Close() // idempotent

	_, err = b.Send("b", aapl(), 1, 1, ActionBuy, ExecDark)
	require.ErrorIs(t, err, ErrClosed)

	// queued commands drain even after close
	queued, ok := <-b.Commands()
	require.True(t, ok)
	assert.Equal(t, "a", queued.OID)
	_, ok = <-b.Commands()
	assert.False(t, ok)
}
