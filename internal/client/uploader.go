// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/ManuGH/timetrack/internal/api"
	"github.com/ManuGH/timetrack/internal/capture"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/resilience"
)

// Uploader delivers captures through the Session API behind a circuit breaker.
type Uploader struct {
	c  *Client
	cb *resilience.CircuitBreaker
}

var _ capture.Uploader = (*Uploader)(nil)

// NewUploader trips after threshold consecutive transport failures and
// probes again after reset. Rejections by the authority do not count.
func NewUploader(c *Client, threshold int, reset time.Duration, opts ...resilience.Option) *Uploader {
	opts = append([]resilience.Option{resilience.WithFailureFilter(func(err error) bool {
		return model.IsRetryable(err) || model.KindOf(err) == model.KindInternal
	})}, opts...)
	return &Uploader{
		c:  c,
		cb: resilience.NewCircuitBreaker("capture_upload", threshold, reset, opts...),
	}
}

func (u *Uploader) Upload(ctx context.Context, req capture.UploadRequest) (string, error) {
	var receipt model.CaptureReceipt
	err := u.cb.Execute(ctx, func(ctx context.Context) error {
		r, err := u.newUploadRequest(ctx, req)
		if err != nil {
			return err
		}
		return u.c.do(r, &receipt)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", model.Transport("upload", err)
	}
	if err != nil {
		return "", err
	}
	return receipt.Locator, nil
}

func (u *Uploader) newUploadRequest(ctx context.Context, req capture.UploadRequest) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField(api.FormCaptureID, req.CaptureID)
	_ = mw.WriteField(api.FormCapturedAt, req.CapturedAt.UTC().Format(time.RFC3339Nano))

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+api.FormFile+`"; filename="`+req.CaptureID+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, model.Validation("upload", "%v", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, model.Validation("upload", "%v", err)
	}
	if err := mw.Close(); err != nil {
		return nil, model.Validation("upload", "%v", err)
	}

	path := "/api/v1/sessions/" + url.PathEscape(req.SessionID) + "/captures"
	r, err := u.c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r, nil
}

func (u *Uploader) State() resilience.State { return u.cb.State() }
