package endpoint_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/momentics/usock/api/mocks"
	"github.com/momentics/usock/endpoint"
)

func TestCounterReply_CountsFromOne(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	r.EXPECT().Name().Return("tester").AnyTimes()
	gomock.InOrder(
		r.EXPECT().Enqueue([]byte("Hey Client!1")).Return(nil),
		r.EXPECT().Enqueue([]byte("Hey Client!2")).Return(nil),
	)

	h := endpoint.CounterReply(endpoint.DefaultReplyPrefix)
	h.HandleInbound(r, []byte("first"))
	h.HandleInbound(r, []byte("second"))
}

func TestCounterReplyFunc_ReadsPrefixPerPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	r.EXPECT().Name().Return("tester").AnyTimes()
	gomock.InOrder(
		r.EXPECT().Enqueue([]byte("a1")).Return(nil),
		r.EXPECT().Enqueue([]byte("b2")).Return(errors.New("stopped")),
	)

	prefix := "a"
	h := endpoint.CounterReplyFunc(func() string { return prefix })
	h.HandleInbound(r, nil)
	prefix = "b"
	h.HandleInbound(r, nil) // enqueue failure is logged, not propagated
}

func TestCounterReply_InstancesCountIndependently(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	r.EXPECT().Name().Return("tester").AnyTimes()
	r.EXPECT().Enqueue([]byte("x1")).Return(nil).Times(2)

	endpoint.CounterReply("x").HandleInbound(r, nil)
	endpoint.CounterReply("x").HandleInbound(r, nil)
}

func TestEcho(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	r.EXPECT().Enqueue([]byte("ping")).Return(nil)

	endpoint.Echo().HandleInbound(r, []byte("ping"))
	assert.True(t, ctrl.Satisfied())
}
