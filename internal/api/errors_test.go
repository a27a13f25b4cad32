package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: u9", presence.ErrUnknownUser), codes.NotFound},
		{fmt.Errorf("%w: c9", directory.ErrUnknownChannel), codes.NotFound},
		{msglog.ErrNotFound, codes.NotFound},
		{membership.ErrNotAMember, codes.FailedPrecondition},
		{membership.ErrChannelNotVoice, codes.FailedPrecondition},
		{msglog.ErrInvalidReaction, codes.InvalidArgument},
		{msglog.ErrNotSender, codes.PermissionDenied},
		{delivery.ErrRateLimited, codes.ResourceExhausted},
		{directory.ErrDuplicateChannel, codes.AlreadyExists},
		{fmt.Errorf("%w: ingest m1: missing order key", msglog.ErrMalformed), codes.InvalidArgument},
		{fmt.Errorf("%w: p1", delivery.ErrNotPending), codes.FailedPrecondition},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		got := grpcstatus.Code(toStatus(tt.err))
		if got != tt.want {
			t.Errorf("toStatus(%v) code = %v, want %v", tt.err, got, tt.want)
		}
	}
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
	already := grpcstatus.Error(codes.Aborted, "x")
	if grpcstatus.Code(toStatus(already)) != codes.Aborted {
		t.Error("status errors must pass through")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&SendRequest{ChannelID: "c1", SenderID: "u1", Body: Body{Text: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	var got SendRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ChannelID != "c1" || got.Body.Text != "hi" {
		t.Errorf("decoded %+v", got)
	}
	if c.Name() != CodecName {
		t.Errorf("Name() = %q", c.Name())
	}
}
