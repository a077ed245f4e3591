// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
)

// ErrNoProgressToken is returned by Progress when the originating request
// carried no progress token.
var ErrNoProgressToken = errors.New("mcp: no progress token")

// Progress reports progress on the request r wraps. It returns
// ErrNoProgressToken if the caller never asked for progress updates.
func (r *ServerRequest[P]) Progress(ctx context.Context, msg string, progress, total float64) error {
	meta := metaOf(r.Params)
	token, ok := meta[progressTokenKey]
	if !ok {
		return ErrNoProgressToken
	}
	return r.Session.notifyProgress(ctx, &ProgressNotificationParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       msg,
	})
}

// metaGetter is implemented by every params type that carries _meta.
type metaGetter interface {
	GetMeta() Meta
}

func metaOf(p any) Meta {
	if mg, ok := p.(metaGetter); ok {
		return mg.GetMeta()
	}
	return nil
}
