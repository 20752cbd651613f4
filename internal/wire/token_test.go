package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_SetResultFiresCallback(t *testing.T) {
	tok := NewToken[int]()
	var got int
	tok.OnResult(func(v int) { got = v })
	tok.SetResult(42)
	assert.Equal(t, 42, got)
	assert.True(t, tok.Triggered())
}

func TestToken_DoubleFirePanics(t *testing.T) {
	tok := NewToken[int]()
	tok.SetResult(1)
	assert.Panics(t, func() { tok.SetResult(2) })
}

func TestToken_RebindCallbackPanics(t *testing.T) {
	tok := NewToken[int]()
	tok.OnResult(func(int) {})
	assert.Panics(t, func() { tok.OnResult(func(int) {}) })
}

func TestToken_ExceptionWithoutCallbackPropagates(t *testing.T) {
	tok := NewToken[int]()
	boom := errors.New("boom")
	err := tok.SetException(boom)
	require.Error(t, err)
	assert.Equal(t, boom, err)
}

func TestToken_ExceptionWithCallbackIsHandled(t *testing.T) {
	tok := NewToken[int]()
	var got error
	tok.OnException(func(e error) { got = e })
	boom := errors.New("boom")
	err := tok.SetException(boom)
	assert.NoError(t, err)
	assert.Equal(t, boom, got)
}

func TestToken_CancelDiscardsLaterDelivery(t *testing.T) {
	tok := NewToken[int]()
	detached := false
	tok.SetDetach(func() { detached = true })
	called := false
	tok.OnResult(func(int) { called = true })
	tok.Cancel()
	assert.True(t, detached)
	tok.SetResult(7)
	assert.False(t, called)
	assert.False(t, tok.Triggered())
}

func TestToken_CancelAfterFireIsNoOp(t *testing.T) {
	tok := NewToken[int]()
	tok.SetResult(1)
	assert.NotPanics(t, func() { tok.Cancel() })
}

func TestAggregate_AllSucceed(t *testing.T) {
	toks := []*Token[int]{NewToken[int](), NewToken[int](), NewToken[int]()}
	agg := Aggregate(toks)
	var result []int
	agg.OnResult(func(v []int) { result = v })
	toks[1].SetResult(20)
	toks[0].SetResult(10)
	assert.Nil(t, result)
	toks[2].SetResult(30)
	require.NotNil(t, result)
	assert.Equal(t, []int{10, 20, 30}, result)
}

func TestAggregate_FirstErrorWins(t *testing.T) {
	toks := []*Token[int]{NewToken[int](), NewToken[int]()}
	agg := Aggregate(toks)
	var gotErr error
	agg.OnException(func(e error) { gotErr = e })
	boom := errors.New("boom")
	toks[0].SetException(boom)
	toks[1].SetResult(5) // ignored, aggregate already fired
	assert.Equal(t, boom, gotErr)
}

func TestAggregate_EmptyNeverFires(t *testing.T) {
	agg := Aggregate([]*Token[int]{})
	fired := false
	agg.OnResult(func(v []int) { fired = true })
	assert.False(t, fired)
	assert.False(t, agg.Triggered())
}
