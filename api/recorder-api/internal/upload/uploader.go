// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_upload

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
)

const uploadTimeout = 2 * time.Minute

// restyUploader ships finalized recordings to backend storage. Callers invoke
// it fire-and-forget after stop; a failed upload costs nothing but a retry on
// the next app run, so failures are logged and returned, never fatal.
type restyUploader struct {
	logger   commons.Logger
	client   *resty.Client
	endpoint string
}

// NewRestyUploader builds an uploader against the recordings endpoint.
func NewRestyUploader(logger commons.Logger, endpoint, apiKey string) internal_type.Uploader {
	client := resty.New().
		SetTimeout(uploadTimeout).
		SetHeader("Authorization", "Bearer "+apiKey)
	return &restyUploader{
		logger:   logger,
		client:   client,
		endpoint: endpoint,
	}
}

func (u *restyUploader) Upload(ctx context.Context, sessionID string, audio *internal_type.AudioFileRef) error {
	if audio == nil {
		return nil
	}
	tracks := map[string]string{
		string(internal_type.SourceMicrophone): audio.MicrophonePath,
		string(internal_type.SourceSystem):     audio.SystemPath,
	}
	for source, path := range tracks {
		if path == "" {
			continue
		}
		resp, err := u.client.R().
			SetContext(ctx).
			SetFile("file", path).
			SetFormData(map[string]string{
				"session_id": sessionID,
				"source":     source,
			}).
			Post(u.endpoint)
		if err != nil {
			u.logger.Warnf("upload of %s track for session %s failed: %v", source, sessionID, err)
			return fmt.Errorf("upload %s track: %w", source, err)
		}
		if resp.IsError() {
			u.logger.Warnf("upload of %s track for session %s rejected: %s", source, sessionID, resp.Status())
			return fmt.Errorf("upload %s track: server returned %s", source, resp.Status())
		}
		u.logger.Infof("uploaded %s track for session %s", source, sessionID)
	}
	return nil
}
