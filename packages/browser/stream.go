package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/snare/packages/capture"
)

// startStream subscribes to the page's network events. A response is emitted
// once its body has finished loading; redirects are emitted immediately and
// carry no body.
func (s *Session) startStream(ctx context.Context) error {
	pending := make(map[proto.NetworkRequestID]*proto.NetworkResponse)
	page := s.page.Context(ctx)

	emit := func(resp *capture.Response) {
		select {
		case s.responses <- resp:
		case <-ctx.Done():
		}
	}

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if r := e.RedirectResponse; r != nil {
				emit(capture.NewResponse(r.URL, r.Status, headerMap(r.Headers), nil))
			}
		},
		func(e *proto.NetworkResponseReceived) {
			pending[e.RequestID] = e.Response
		},
		func(e *proto.NetworkLoadingFinished) {
			r, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			emit(capture.NewResponse(r.URL, r.Status, headerMap(r.Headers), s.bodyLoader(e.RequestID)))
		},
		func(e *proto.NetworkLoadingFailed) {
			if _, ok := pending[e.RequestID]; ok {
				s.logger.Debug("response dropped",
					zap.String("request_id", string(e.RequestID)),
					zap.String("error", e.ErrorText))
				delete(pending, e.RequestID)
			}
		},
	)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}

	// Closing the observed tab ends the stream
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(s.browser); err != nil {
		s.logger.Warn("failed to watch page targets", zap.Error(err))
	} else {
		closed := s.browser.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) bool {
			return e.TargetID == s.page.TargetID
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			closed()
			s.cancel()
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.responses)
		wait()
		s.logger.Debug("response stream ended")
	}()

	return nil
}

func (s *Session) bodyLoader(id proto.NetworkRequestID) capture.BodyFunc {
	return func(ctx context.Context) ([]byte, error) {
		res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(s.page.Context(ctx))
		if err != nil {
			return nil, err
		}
		return decodeBody(res.Body, res.Base64Encoded)
	}
}

func decodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return data, nil
}

func headerMap(h proto.NetworkHeaders) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
