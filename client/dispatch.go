package client

import (
	"context"
	"errors"
	"fmt"
)

// ErrAllChannelsFailed is returned by Dispatch when no strategy succeeded.
var ErrAllChannelsFailed = errors.New("all dispatch channels failed")

// Result is what a successful dispatch channel reports. Message is set only when
// the channel answered with the stored, authoritative copy.
type Result struct {
	Channel string
	Message *Message
}

// Strategy delivers one outgoing message over one channel.
type Strategy struct {
	Name string
	Send func(ctx context.Context, msg OutgoingMessage) (Result, error)
}

// Dispatch tries strategies in order and returns the first success. When every
// strategy fails the error wraps ErrAllChannelsFailed and each channel's error.
func Dispatch(ctx context.Context, msg OutgoingMessage, strategies ...Strategy) (Result, error) {
	errs := []error{ErrAllChannelsFailed}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := s.Send(ctx, msg)
		if err == nil {
			if res.Channel == "" {
				res.Channel = s.Name
			}
			return res, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return Result{}, errors.Join(errs...)
}
